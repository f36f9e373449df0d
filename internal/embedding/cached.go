package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/patrickmn/go-cache"
)

// RemoteCache is a shared key/value store used as a second cache tier
type RemoteCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// CachedProvider memoizes embeddings in-process (L1) and optionally in a
// shared remote cache (L2). Errors are never cached.
type CachedProvider struct {
	inner  Provider
	local  *cache.Cache
	remote RemoteCache
	ttl    time.Duration
}

// NewCachedProvider wraps inner. remote may be nil.
func NewCachedProvider(inner Provider, ttl time.Duration, remote RemoteCache) *CachedProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedProvider{
		inner:  inner,
		local:  cache.New(ttl, 2*ttl),
		remote: remote,
		ttl:    ttl,
	}
}

func (p *CachedProvider) Name() string { return p.inner.Name() }

func (p *CachedProvider) key(text string, mode Mode) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + p.inner.Name() + ":" + string(mode) + ":" + hex.EncodeToString(sum[:])
}

// Embed returns a cached vector when present, otherwise delegates to the wrapped provider
func (p *CachedProvider) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	key := p.key(text, mode)

	if v, ok := p.local.Get(key); ok {
		return v.([]float32), nil
	}

	if p.remote != nil {
		if raw, err := p.remote.Get(ctx, key); err == nil && raw != "" {
			var vec []float32
			if err := json.Unmarshal([]byte(raw), &vec); err == nil && len(vec) > 0 {
				p.local.SetDefault(key, vec)
				return vec, nil
			}
		}
	}

	vec, err := p.inner.Embed(ctx, text, mode)
	if err != nil {
		return nil, err
	}

	p.local.SetDefault(key, vec)
	if p.remote != nil {
		if raw, err := json.Marshal(vec); err == nil {
			if err := p.remote.Set(ctx, key, raw, p.ttl); err != nil {
				log.Printf("⚠️ [EMBEDDING] Failed to write remote cache: %v", err)
			}
		}
	}
	return vec, nil
}

// ItemCount returns the number of vectors held in the local tier
func (p *CachedProvider) ItemCount() int {
	return p.local.ItemCount()
}
