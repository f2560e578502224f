// Package assembler composes budget-bounded prompts for the generation
// capability from retrieved knowledge chunks, conversation history, and
// the client profile.
//
// Composition order is fixed: system instructions, profile summary,
// history oldest-first, retrieved chunks, current user message. When the
// composition exceeds the budget, whole units are dropped in order —
// oldest history entries, then lowest-similarity chunks, then the profile
// summary. Nothing is ever truncated mid-unit. If the mandatory parts
// (system instructions plus the current message) alone exceed the budget,
// Assemble fails with ErrContextOverflow.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/index"
	"github.com/movne/advisor-backend/memory"
)

// Config controls retrieval sizes and the context budget.
type Config struct {
	// TopChunks is how many chunks to retrieve per turn. Default 3.
	TopChunks int

	// HistoryLimit is how many past messages to retrieve. Default 5.
	HistoryLimit int

	// Budget is the maximum prompt size in the Counter's unit. Default 8000.
	Budget int

	// Counter measures text against the budget. Default is the cl100k_base
	// token counter; RuneCounter gives a character budget instead.
	Counter TokenCounter
}

// Input identifies one turn to assemble for.
type Input struct {
	ClientID string
	Message  string
	Language core.Language
}

// Prompt is the assembled, budget-respecting composition. History is
// oldest-first; Chunks are similarity-descending. Generators flatten or
// map these parts to their own wire shapes.
type Prompt struct {
	System   string
	Profile  string // empty when absent or dropped for budget
	History  []core.Message
	Chunks   []core.ScoredChunk
	UserText string
	Language core.Language

	// Tokens is the measured size of the final composition.
	Tokens int
}

// Builder assembles prompts from the index and the memory store.
type Builder struct {
	searcher index.Searcher
	store    memory.Store
	cfg      Config
}

// New creates a Builder. The zero Config fields get defaults; Counter
// defaults to the cl100k_base token counter.
func New(searcher index.Searcher, store memory.Store, cfg Config) (*Builder, error) {
	if cfg.TopChunks <= 0 {
		cfg.TopChunks = 3
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 8000
	}
	if cfg.Counter == nil {
		counter, err := NewBPECounter()
		if err != nil {
			return nil, err
		}
		cfg.Counter = counter
	}
	return &Builder{searcher: searcher, store: store, cfg: cfg}, nil
}

// Assemble builds the prompt for one turn.
func (b *Builder) Assemble(ctx context.Context, in Input) (*Prompt, error) {
	if in.Message == "" {
		return nil, fmt.Errorf("%w: empty message", core.ErrValidation)
	}
	if in.Language != "" && !in.Language.Valid() {
		return nil, fmt.Errorf("%w: unsupported language %q", core.ErrValidation, in.Language)
	}

	chunks, err := b.searcher.Search(ctx, in.Message, b.cfg.TopChunks, &index.Filter{Language: in.Language})
	if err != nil {
		return nil, fmt.Errorf("retrieve chunks: %w", err)
	}

	history, err := b.store.History(ctx, in.ClientID, memory.HistoryQuery{Limit: b.cfg.HistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("retrieve history: %w", err)
	}
	// History arrives newest-first; the prompt wants oldest-first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	profile, err := b.store.Profile(ctx, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("retrieve profile: %w", err)
	}

	system := SystemPrompt(in.Language)
	userUnit := renderUser(in.Message)

	count := b.cfg.Counter.Count
	mandatory := count(system) + count(userUnit)
	if mandatory > b.cfg.Budget {
		return nil, fmt.Errorf("%w: system instructions and message need %d of %d budget",
			core.ErrContextOverflow, mandatory, b.cfg.Budget)
	}

	profileUnit := renderProfile(profile)
	total := mandatory + count(profileUnit)
	historyCosts := make([]int, len(history))
	for i, msg := range history {
		historyCosts[i] = count(renderMessage(msg))
		total += historyCosts[i]
	}
	chunkCosts := make([]int, len(chunks))
	for i, sc := range chunks {
		chunkCosts[i] = count(renderChunk(sc.Chunk))
		total += chunkCosts[i]
	}

	// Trim whole units until the composition fits: oldest history first,
	// then lowest-similarity chunks, then the profile summary.
	for total > b.cfg.Budget && len(history) > 0 {
		total -= historyCosts[0]
		history, historyCosts = history[1:], historyCosts[1:]
	}
	for total > b.cfg.Budget && len(chunks) > 0 {
		last := len(chunks) - 1
		total -= chunkCosts[last]
		chunks, chunkCosts = chunks[:last], chunkCosts[:last]
	}
	if total > b.cfg.Budget && profileUnit != "" {
		total -= count(profileUnit)
		profileUnit = ""
	}

	return &Prompt{
		System:   system,
		Profile:  profileUnit,
		History:  history,
		Chunks:   chunks,
		UserText: in.Message,
		Language: in.Language,
		Tokens:   total,
	}, nil
}

// Render flattens the prompt into one text block for single-string
// generation backends. The order matches the composition contract.
func (p *Prompt) Render() string {
	var sb strings.Builder
	sb.WriteString(p.System)
	if p.Profile != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p.Profile)
	}
	if len(p.History) > 0 {
		sb.WriteString("\n\nChat History:")
		for _, msg := range p.History {
			sb.WriteString("\n")
			sb.WriteString(renderMessage(msg))
		}
	}
	if len(p.Chunks) > 0 {
		sb.WriteString("\n\nRelevant knowledge:")
		for _, sc := range p.Chunks {
			sb.WriteString("\n")
			sb.WriteString(renderChunk(sc.Chunk))
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(renderUser(p.UserText))
	sb.WriteString("\nAssistant:")
	return sb.String()
}

func renderUser(text string) string {
	return "User: " + text
}

func renderMessage(msg core.Message) string {
	return "User: " + msg.UserText + "\nAssistant: " + msg.Assistant
}

func renderChunk(ch core.Chunk) string {
	return "[" + string(ch.Type) + "] " + ch.Text
}

func renderProfile(p *core.ClientProfile) string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.Fields)+3)
	if p.PreferredLanguage != "" {
		parts = append(parts, "preferred_language="+string(p.PreferredLanguage))
	}
	if p.RiskAppetite != "" {
		parts = append(parts, "risk_appetite="+p.RiskAppetite)
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+p.Fields[k])
	}
	parts = append(parts, "interactions="+strconv.Itoa(p.InteractionCount))
	return "Client profile: " + strings.Join(parts, "; ")
}
