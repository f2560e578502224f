// Package generate defines the generation capability boundary. The core
// never runs model inference itself; it shapes requests from assembled
// prompts and post-processes responses. Backends live in subpackages
// (anthropic, ollama) and are selected by configuration.
package generate

import (
	"context"
	"errors"
	"strings"

	"github.com/movne/advisor-backend/assembler"
	"github.com/movne/advisor-backend/core"
)

// Params are the sampling parameters for one generation call.
type Params struct {
	// Model names the backend model. Empty uses the backend's default.
	Model string

	// MaxTokens caps the response length. Zero uses the backend's default.
	MaxTokens int64

	// Temperature, when non-nil, overrides the backend's default sampling
	// temperature.
	Temperature *float64
}

// StreamFunc receives response text incrementally. done is true exactly
// once, after the final chunk.
type StreamFunc func(chunk string, done bool)

// Generator is the generation capability.
type Generator interface {
	// Generate produces one response for the prompt. Failures are
	// *core.GenerationError; the caller decides whether to retry.
	Generate(ctx context.Context, p *assembler.Prompt, params Params) (string, error)

	// Stream produces the response incrementally through fn and returns
	// the accumulated full text.
	Stream(ctx context.Context, p *assembler.Prompt, params Params, fn StreamFunc) (string, error)
}

// Clean strips scaffolding the model may echo back: role-prefix artifacts
// at the start of the response and stray trailing role cues. The cleaned
// text is what reaches the user and the conversation log.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"Assistant:", "assistant:", "AI:"} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}
	// A model continuing the transcript pattern sometimes emits the next
	// "User:" turn; everything from there on is scaffolding, not response.
	if i := strings.Index(text, "\nUser:"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return text
}

// Classify wraps a backend failure as a GenerationError, deciding
// transient vs permanent from the failure shape. Timeouts, cancellation,
// rate limits, and upstream 5xx are transient; everything else (invalid
// request, authentication) is permanent.
func Classify(err error) *core.GenerationError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.NewGenerationError(core.GenerationTransient, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "529"):
		return core.NewGenerationError(core.GenerationTransient, err)
	default:
		return core.NewGenerationError(core.GenerationPermanent, err)
	}
}
