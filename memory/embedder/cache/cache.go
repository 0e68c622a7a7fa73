// Package cache provides an Embedder decorator that memoizes embeddings in a
// ristretto cache. Query text repeats on every chat turn (the same entity
// names, the same scan anchors), so caching avoids recomputing vectors.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/grace/memory"
)

// Embedder wraps another Embedder with a bounded cache.
type Embedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

// Config sizes the cache.
type Config struct {
	// MaxEntries bounds the number of cached vectors. Default: 10000.
	MaxEntries int64
}

// New creates a caching embedder around next.
func New(next memory.Embedder, cfg Config) (*Embedder, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{next: next, cache: c}, nil
}

// Embed returns the cached vector for text or computes and caches it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close stops the cache's background goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}
