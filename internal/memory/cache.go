package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes an Embedder by purpose and text. Inference embeds
// the same fact for candidate search and for insertion, and repeated queries
// are common.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps next with a cache holding about maxEntries vectors.
func NewCachedEmbedder(next Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: c}, nil
}

// Compile-time interface check.
var _ Embedder = (*CachedEmbedder)(nil)

// Embed returns the cached vector or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	key := string(purpose) + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.next.Embed(ctx, text, purpose)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// Wait blocks until pending cache writes are visible. Intended for tests.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache goroutines.
func (c *CachedEmbedder) Close() { c.cache.Close() }
