// Package ollama backs the generation capability with a local Ollama
// server's /api/generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/movne/advisor-backend/assembler"
	"github.com/movne/advisor-backend/generate"
)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 120 * time.Second
)

// Config holds the Ollama connection settings.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Generator calls a local Ollama server.
type Generator struct {
	client  *http.Client
	baseURL string
	model   string
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	NumPredict  int64    `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// New creates a Generator; zero Config fields get defaults.
func New(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Generator{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
	}
}

// Generate flattens the prompt and requests one completion.
func (g *Generator) Generate(ctx context.Context, p *assembler.Prompt, params generate.Params) (string, error) {
	resp, err := g.do(ctx, p, params, false)
	if err != nil {
		return "", generate.Classify(err)
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", generate.Classify(fmt.Errorf("decode response: %w", err))
	}
	return generate.Clean(out.Response), nil
}

// Stream requests a streamed completion and decodes the NDJSON event
// lines, forwarding each delta to fn.
func (g *Generator) Stream(ctx context.Context, p *assembler.Prompt, params generate.Params, fn generate.StreamFunc) (string, error) {
	resp, err := g.do(ctx, p, params, true)
	if err != nil {
		return "", generate.Classify(err)
	}
	defer resp.Body.Close()

	var full string
	dec := json.NewDecoder(resp.Body)
	for {
		var event generateResponse
		if err := dec.Decode(&event); err == io.EOF {
			break
		} else if err != nil {
			return "", generate.Classify(fmt.Errorf("decode stream event: %w", err))
		}
		if event.Response != "" {
			full += event.Response
			fn(event.Response, false)
		}
		if event.Done {
			break
		}
	}
	fn("", true)
	return generate.Clean(full), nil
}

func (g *Generator) do(ctx context.Context, p *assembler.Prompt, params generate.Params, stream bool) (*http.Response, error) {
	model := params.Model
	if model == "" {
		model = g.model
	}

	reqBody := generateRequest{
		Model:  model,
		Prompt: p.Render(),
		Stream: stream,
	}
	if params.MaxTokens > 0 || params.Temperature != nil {
		reqBody.Options = &options{
			NumPredict:  params.MaxTokens,
			Temperature: params.Temperature,
			// The flat prompt ends with an assistant cue, so a model that
			// keeps going into the next turn is cut off at the source.
			Stop: []string{"\nUser:"},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}
