// Package embedder defines the embedding capability the retrieval engine
// depends on, plus a caching wrapper. Concrete backends live in
// subpackages and are selected by configuration:
//
//   - mock: deterministic hash-based vectors for tests
//   - ollama: local Ollama embeddings over HTTP
//   - onnx: offline ONNX Runtime embeddings (build tag "onnx")
package embedder

import (
	"context"
	"math"
)

// Embedder converts text to a fixed-dimension vector. Implementations must
// be deterministic for identical input within a process; no cross-call
// stability is assumed beyond that.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Normalize scales a vector to unit length. Zero vectors pass through
// unchanged. Backends normalize their output so cosine similarity reduces
// to a dot product in the index.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
