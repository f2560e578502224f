// Package ollama implements the embedding capability against a local
// Ollama server's /api/embeddings endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/movne/advisor-backend/embedder"
)

// Config configures the Ollama embedder.
type Config struct {
	// URL is the embeddings endpoint, e.g. http://localhost:11434/api/embeddings.
	URL string

	// Model is the embedding model name, e.g. nomic-embed-text.
	Model string

	// Dimensions is the vector size the model produces. The index rejects
	// vectors of any other size, so this must match the model.
	Dimensions int

	// Timeout bounds a single embedding call. Default: 30s.
	Timeout time.Duration
}

// Embedder calls Ollama for embeddings.
type Embedder struct {
	cfg    Config
	client *http.Client
}

// New creates an Ollama embedder.
func New(cfg Config) *Embedder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Embedder{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests a vector for the text and normalizes it to unit length.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embeddings: status %d: %s", resp.StatusCode, msg)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(parsed.Embedding) != e.cfg.Dimensions {
		return nil, fmt.Errorf("ollama returned %d dimensions, expected %d", len(parsed.Embedding), e.cfg.Dimensions)
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}

	return embedder.Normalize(vec), nil
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int {
	return e.cfg.Dimensions
}
