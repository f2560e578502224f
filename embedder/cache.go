package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps an Embedder with a ristretto cache keyed by input text, and
// serializes calls into the backend. Embedding backends (Ollama, ONNX
// sessions) are not assumed thread-safe, so concurrent requests for
// different texts queue on a single mutex rather than hitting the backend
// in parallel.
type Cached struct {
	backend Embedder
	cache   *ristretto.Cache
	mu      sync.Mutex
}

// CacheConfig sizes the embedding cache.
type CacheConfig struct {
	// MaxEntries bounds how many text→vector pairs are kept. Default: 4096.
	MaxEntries int64
}

// NewCached wraps a backend with caching.
func NewCached(backend Embedder, cfg CacheConfig) (*Cached, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = 4096
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Cached{backend: backend, cache: cache}, nil
}

// Embed returns the cached vector for text, computing and storing it on a
// miss. Callers get a copy-free slice; vectors are treated as immutable.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have filled the entry while we waited.
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}

	vec, err := c.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the backend's embedding size.
func (c *Cached) Dimensions() int {
	return c.backend.Dimensions()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
