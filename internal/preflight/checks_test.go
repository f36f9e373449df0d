package preflight

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct{ err error }

func (f fakeStore) Ping(context.Context) error { return f.err }
func (f fakeStore) Backend() string            { return "memory" }

func TestRunAll_AllPass(t *testing.T) {
	checker := NewChecker(Options{
		Store:                  fakeStore{},
		APIKey:                 "0123456789abcdef0123",
		EmbeddingProvider:      "gemini",
		TranscriptionProviders: []string{"groq", "openai"},
	})

	results := checker.RunAll(context.Background())
	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != "pass" {
			t.Errorf("%s: expected pass, got %s (%s)", r.Name, r.Status, r.Message)
		}
	}
	if HasFailures(results) {
		t.Error("Expected no failures")
	}
}

func TestCheckStoreConnection_Failure(t *testing.T) {
	checker := NewChecker(Options{Store: fakeStore{err: errors.New("connection refused")}})
	result := checker.checkStoreConnection(context.Background())

	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be recorded")
	}
}

func TestCheckStoreConnection_Missing(t *testing.T) {
	result := NewChecker(Options{}).checkStoreConnection(context.Background())
	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
}

func TestCheckAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "fail"},
		{"short", "warning"},
		{"a-long-enough-shared-secret", "pass"},
	}
	for _, tt := range tests {
		got := NewChecker(Options{APIKey: tt.key}).checkAPIKey()
		if got.Status != tt.want {
			t.Errorf("key %q: expected %s, got %s", tt.key, tt.want, got.Status)
		}
	}
}

func TestMissingProvidersAreWarnings(t *testing.T) {
	checker := NewChecker(Options{Store: fakeStore{}, APIKey: "a-long-enough-shared-secret"})
	results := checker.RunAll(context.Background())

	if HasFailures(results) {
		t.Error("Missing providers should not fail preflight")
	}
	if r := checker.checkEmbeddingProvider(); r.Status != "warning" {
		t.Errorf("Expected embedding warning, got %s", r.Status)
	}
	if r := checker.checkTranscriptionProviders(); r.Status != "warning" {
		t.Errorf("Expected transcription warning, got %s", r.Status)
	}
}
