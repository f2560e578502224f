// Package anthropic backs the generation capability with the Anthropic
// Messages API, including streamed responses.
package anthropic

import (
	"context"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/movne/advisor-backend/assembler"
	"github.com/movne/advisor-backend/generate"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Generator calls the Anthropic Messages API.
type Generator struct {
	client anthropic.Client
}

// New creates a Generator authenticated with the given API key.
func New(apiKey string) *Generator {
	return &Generator{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Generate produces one response for the prompt.
func (g *Generator) Generate(ctx context.Context, p *assembler.Prompt, params generate.Params) (string, error) {
	resp, err := g.client.Messages.New(ctx, buildParams(p, params))
	if err != nil {
		log.Printf("[GENERATE] anthropic call failed: %v", err)
		return "", generate.Classify(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return generate.Clean(text), nil
}

// Stream produces the response incrementally, accumulating the full
// message from stream events. The callback receives raw deltas; the
// returned full text is cleaned.
func (g *Generator) Stream(ctx context.Context, p *assembler.Prompt, params generate.Params, fn generate.StreamFunc) (string, error) {
	stream := g.client.Messages.NewStreaming(ctx, buildParams(p, params))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			log.Printf("[GENERATE] accumulate event: %v", err)
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				fn(delta.Text, false)
			}
		}
	}
	if err := stream.Err(); err != nil {
		log.Printf("[GENERATE] anthropic stream failed: %v", err)
		return "", generate.Classify(err)
	}
	fn("", true)

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return generate.Clean(text), nil
}

// buildParams maps the assembled prompt onto the Messages API shape:
// system instructions (plus profile and retrieved knowledge) as system
// blocks, history as alternating turns, the current message last.
func buildParams(p *assembler.Prompt, params generate.Params) anthropic.MessageNewParams {
	model := params.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	system := p.System
	if p.Profile != "" {
		system += "\n\n" + p.Profile
	}
	if len(p.Chunks) > 0 {
		system += "\n\nRelevant knowledge:"
		for _, sc := range p.Chunks {
			system += "\n[" + string(sc.Chunk.Type) + "] " + sc.Chunk.Text
		}
	}

	messages := make([]anthropic.MessageParam, 0, 2*len(p.History)+1)
	for _, msg := range p.History {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(msg.UserText)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Assistant)),
		)
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(p.UserText)))

	out := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
	}
	if params.Temperature != nil {
		out.Temperature = anthropic.Float(*params.Temperature)
	}
	return out
}
