package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEMORY_API_KEY", "secret")
	t.Setenv("MONGODB_URI", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("EMBEDDING_DIM", "")
	t.Setenv("GEMINI_EMBEDDING_DIM", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8787" {
		t.Errorf("Port = %q, want 8787", cfg.Port)
	}
	if cfg.StoreBackend != BackendSQLite {
		t.Errorf("StoreBackend = %q, want sqlite when no Mongo URI is set", cfg.StoreBackend)
	}
	if cfg.EmbeddingDim != 768 {
		t.Errorf("EmbeddingDim = %d, want 768", cfg.EmbeddingDim)
	}
	if cfg.SessionMaxAge != 10*time.Minute {
		t.Errorf("SessionMaxAge = %v, want 10m", cfg.SessionMaxAge)
	}
}

func TestLoadMongoDefault(t *testing.T) {
	t.Setenv("MEMORY_API_KEY", "secret")
	t.Setenv("MONGODB_URI", "mongodb+srv://cluster.example.net/makeuoft26")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMongo {
		t.Errorf("StoreBackend = %q, want mongo", cfg.StoreBackend)
	}
}

func TestEmbeddingDim(t *testing.T) {
	tests := []struct {
		name   string
		dim    string
		legacy string
		want   int
	}{
		{"default", "", "", 768},
		{"provider neutral key", "1536", "", 1536},
		{"legacy gemini key", "", "3072", 3072},
		{"neutral key wins", "1536", "3072", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MEMORY_API_KEY", "k")
			t.Setenv("STORE_BACKEND", "memory")
			t.Setenv("EMBEDDING_PROVIDER", "openai")
			t.Setenv("EMBEDDING_DIM", tt.dim)
			t.Setenv("GEMINI_EMBEDDING_DIM", tt.legacy)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.EmbeddingDim != tt.want {
				t.Errorf("EmbeddingDim = %d, want %d", cfg.EmbeddingDim, tt.want)
			}
		})
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api key", map[string]string{"MEMORY_API_KEY": ""}},
		{"mongo without uri", map[string]string{"MEMORY_API_KEY": "k", "STORE_BACKEND": "mongo", "MONGODB_URI": ""}},
		{"unknown backend", map[string]string{"MEMORY_API_KEY": "k", "STORE_BACKEND": "postgres"}},
		{"unknown embedder", map[string]string{"MEMORY_API_KEY": "k", "STORE_BACKEND": "memory", "EMBEDDING_PROVIDER": "cohere"}},
		{"zero embedding dim", map[string]string{"MEMORY_API_KEY": "k", "STORE_BACKEND": "memory", "EMBEDDING_DIM": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurationEnv(t *testing.T) {
	t.Setenv("X_DURATION", "45")
	if got := getDurationEnv("X_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("bare seconds: got %v", got)
	}
	t.Setenv("X_DURATION", "2m")
	if got := getDurationEnv("X_DURATION", time.Second); got != 2*time.Minute {
		t.Errorf("duration string: got %v", got)
	}
	t.Setenv("X_DURATION", "soon")
	if got := getDurationEnv("X_DURATION", time.Second); got != time.Second {
		t.Errorf("invalid value should fall back: got %v", got)
	}
}

func TestOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoryapi.yaml")
	content := "memory_api_key: rotated\nrate_limit_transcribe: 5\nsession_max_age: 2m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEMORY_API_KEY", "original")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "rotated" {
		t.Errorf("APIKey = %q, want overlay value", cfg.APIKey)
	}
	if cfg.RateLimitTranscribe != 5 {
		t.Errorf("RateLimitTranscribe = %d, want 5", cfg.RateLimitTranscribe)
	}
	if cfg.RateLimitGlobalAPI != 600 {
		t.Errorf("unset overlay key should keep env default, got %d", cfg.RateLimitGlobalAPI)
	}
	if cfg.SessionMaxAge != 2*time.Minute {
		t.Errorf("SessionMaxAge = %v, want 2m", cfg.SessionMaxAge)
	}
}

func TestSecretHolder(t *testing.T) {
	h := NewSecretHolder("a")
	if h.Get() != "a" {
		t.Fatal("initial value not stored")
	}
	h.Set("b")
	if h.Get() != "b" {
		t.Fatal("rotation not visible")
	}
}

func TestWatchFileReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryapi.yaml")
	if err := os.WriteFile(path, []byte("memory_api_key: one\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	go func() {
		_ = WatchFile(ctx, path, func(o *Overlay) { got <- o.APIKey })
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("memory_api_key: two\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case key := <-got:
		if key != "two" {
			t.Errorf("reloaded key = %q, want two", key)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("overlay change was not observed")
	}
}
