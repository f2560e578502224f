// Package mock provides a deterministic embedder for tests. Vectors are
// derived from a hash of the input text, so identical texts always embed
// identically and the exact same text ranks highest against itself in
// similarity search. There is no real semantic structure.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/movne/advisor-backend/embedder"
)

// Embedder generates hash-seeded pseudo-random unit vectors.
type Embedder struct {
	dims int
}

// New creates a mock embedder with the given dimensionality. Zero picks
// 384, matching the MiniLM family the real backends serve.
func New(dims int) *Embedder {
	if dims == 0 {
		dims = 384
	}
	return &Embedder{dims: dims}
}

// Embed derives a deterministic vector from the text hash using an LCG.
func (m *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return embedder.Normalize(vec), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dims
}
