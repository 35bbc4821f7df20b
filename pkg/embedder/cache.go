package embedder

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// CacheConfig contains configuration for CachedProvider.
type CacheConfig struct {
	// MaxEntries bounds the number of cached vectors. Default: 10000.
	MaxEntries int64
}

// CachedProvider wraps a Provider with an in-process embedding cache.
//
// Concurrent requests for the same text share a single upstream call.
type CachedProvider struct {
	Provider

	cache *ristretto.Cache
	group singleflight.Group
}

// NewCachedProvider wraps p with a ristretto cache.
func NewCachedProvider(p Provider, cfg *CacheConfig) (*CachedProvider, error) {
	maxEntries := int64(10000)
	if cfg != nil && cfg.MaxEntries > 0 {
		maxEntries = cfg.MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("NewCachedProvider: %w", err)
	}

	return &CachedProvider{Provider: p, cache: cache}, nil
}

// Embed returns the cached vector for text, computing it on a miss.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(text); ok {
		return copyVector(v.([]float64)), nil
	}

	v, err, _ := c.group.Do(text, func() (interface{}, error) {
		vec, err := c.Provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Set(text, vec, 1)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return copyVector(v.([]float64)), nil
}

// EmbedBatch embeds only the texts that are not cached.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var (
		missing   []string
		missingAt []int
	)
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = copyVector(v.([]float64))
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.Provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("EmbedBatch: got %d vectors for %d texts", len(vectors), len(missing))
	}
	for j, vec := range vectors {
		c.cache.Set(missing[j], vec, 1)
		out[missingAt[j]] = copyVector(vec)
	}
	return out, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedProvider) Wait() {
	c.cache.Wait()
}

// Close closes the cache and the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}

func copyVector(v []float64) []float64 {
	return append([]float64(nil), v...)
}
