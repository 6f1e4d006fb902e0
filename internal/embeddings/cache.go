package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig sizes the embedding cache
type CacheConfig struct {
	// MaxEntries bounds the number of cached vectors
	MaxEntries int64
	TTL        time.Duration
}

// CachedEmbedder memoizes another embedder's vectors in a ristretto cache
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedEmbedder wraps inner with a bounded cache
func NewCachedEmbedder(inner Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache, ttl: cfg.TTL}, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Model() string  { return c.inner.Model() }

func (c *CachedEmbedder) key(text string) string {
	return c.inner.Model() + "\x00" + text
}

// Embed returns the cached vector for text or computes and caches it
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, vec, 1, c.ttl)
	} else {
		c.cache.Set(key, vec, 1)
	}
	return vec, nil
}

// Wait blocks until pending cache writes are applied
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (c *CachedEmbedder) Stats() CacheStats {
	m := c.cache.Metrics
	return CacheStats{Hits: m.Hits(), Misses: m.Misses(), HitRate: m.Ratio()}
}

func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
