package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts() ClientOptions {
	return ClientOptions{Timeout: 2 * time.Second, MaxRetries: 3, InitialDelay: time.Millisecond}
}

func TestGeminiRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-embedding-001:embedContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("secret", "gemini-embedding-001", 768, fastOpts()).WithBaseURL(srv.URL)
	vec, err := p.Embed(context.Background(), "where are my keys", ModeQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	assert.Equal(t, "RETRIEVAL_QUERY", got["taskType"])
	assert.Equal(t, float64(768), got["outputDimensionality"])
	assert.Equal(t, "models/gemini-embedding-001", got["model"])
}

func TestGeminiDocumentMode(t *testing.T) {
	assert.Equal(t, "RETRIEVAL_DOCUMENT", taskType(ModeDocument))
	assert.Equal(t, "RETRIEVAL_QUERY", taskType(ModeQuery))
}

func TestNotConfigured(t *testing.T) {
	_, err := NewGeminiProvider("", "", 0, fastOpts()).Embed(context.Background(), "x", ModeQuery)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewOpenAIProvider("", "", 0, fastOpts()).Embed(context.Background(), "x", ModeQuery)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", "", 2, fastOpts()).WithBaseURL(srv.URL)
	vec, err := p.Embed(context.Background(), "hello", ModeDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", "", 0, fastOpts()).WithBaseURL(srv.URL)
	_, err := p.Embed(context.Background(), "hello", ModeDocument)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type countingProvider struct {
	calls int32
	err   error
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) Embed(_ context.Context, text string, _ Mode) ([]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	remote := &mapCache{data: map[string]string{}}
	p := NewCachedProvider(inner, time.Minute, remote)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "abc", ModeQuery)
	require.NoError(t, err)
	v2, err := p.Embed(ctx, "abc", ModeQuery)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls)
	assert.Len(t, remote.data, 1)

	// different mode is a different key
	_, err = p.Embed(ctx, "abc", ModeDocument)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls)

	// a fresh L1 is served from the remote tier
	p2 := NewCachedProvider(inner, time.Minute, remote)
	_, err = p2.Embed(ctx, "abc", ModeQuery)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls)
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	inner := &countingProvider{err: ErrNotConfigured}
	p := NewCachedProvider(inner, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := p.Embed(context.Background(), "abc", ModeQuery)
		assert.ErrorIs(t, err, ErrNotConfigured)
	}
	assert.Equal(t, int32(2), inner.calls)
	assert.Equal(t, 0, p.ItemCount())
}
