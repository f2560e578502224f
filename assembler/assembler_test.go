package assembler_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/movne/advisor-backend/assembler"
	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/index"
	"github.com/movne/advisor-backend/memory"
	"github.com/movne/advisor-backend/memory/store/memstore"
)

// fakeSearcher returns a fixed result set, ignoring the query.
type fakeSearcher struct {
	results []core.ScoredChunk
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int, _ *index.Filter) ([]core.ScoredChunk, error) {
	if k > len(f.results) {
		k = len(f.results)
	}
	return f.results[:k], nil
}

func scored(text string, sim float64) core.ScoredChunk {
	return core.ScoredChunk{
		Chunk:      core.Chunk{DocumentID: "d", Text: text, Type: core.DocTypeProductGuide, Language: core.LanguageEnglish},
		Similarity: sim,
	}
}

func seedHistory(t *testing.T, st memory.Store, clientID string, turns ...string) {
	t.Helper()
	for _, turn := range turns {
		if _, err := st.AppendMessage(context.Background(), clientID, turn, "answer to "+turn, core.LanguageEnglish, nil); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
}

func TestAssemble_EmptyStoresStillSucceeds(t *testing.T) {
	b, err := assembler.New(&fakeSearcher{}, memstore.New(memory.Config{}), assembler.Config{
		Counter: assembler.RuneCounter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p, err := b.Assemble(context.Background(), assembler.Input{
		ClientID: "fresh-client",
		Message:  "What is an autocallable note?",
		Language: core.LanguageEnglish,
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(p.History) != 0 || len(p.Chunks) != 0 || p.Profile != "" {
		t.Errorf("expected bare prompt, got %+v", p)
	}
	if p.System == "" || p.UserText == "" {
		t.Error("mandatory parts missing")
	}
}

func TestAssemble_CompositionOrder(t *testing.T) {
	st := memstore.New(memory.Config{})
	seedHistory(t, st, "c1", "earlier question")
	if _, err := st.UpdateProfile(context.Background(), "c1", memory.ProfileUpdate{
		PreferredLanguage: core.LanguageEnglish,
	}); err != nil {
		t.Fatal(err)
	}

	b, err := assembler.New(&fakeSearcher{results: []core.ScoredChunk{scored("barrier definition", 0.9)}},
		st, assembler.Config{Counter: assembler.RuneCounter{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p, err := b.Assemble(context.Background(), assembler.Input{
		ClientID: "c1",
		Message:  "current question",
		Language: core.LanguageEnglish,
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	text := p.Render()
	positions := []int{
		strings.Index(text, "Movne Global"),
		strings.Index(text, "Client profile:"),
		strings.Index(text, "earlier question"),
		strings.Index(text, "barrier definition"),
		strings.Index(text, "current question"),
	}
	for i, pos := range positions {
		if pos < 0 {
			t.Fatalf("section %d missing from rendered prompt", i)
		}
		if i > 0 && pos < positions[i-1] {
			t.Errorf("section %d out of order (at %d, previous at %d)", i, pos, positions[i-1])
		}
	}
	if !strings.HasSuffix(text, "Assistant:") {
		t.Error("rendered prompt does not end with the assistant cue")
	}
}

func TestAssemble_HistoryOldestFirst(t *testing.T) {
	st := memstore.New(memory.Config{})
	seedHistory(t, st, "c1", "first", "second", "third")

	b, err := assembler.New(&fakeSearcher{}, st, assembler.Config{Counter: assembler.RuneCounter{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p, err := b.Assemble(context.Background(), assembler.Input{ClientID: "c1", Message: "now", Language: core.LanguageEnglish})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(p.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(p.History))
	}
	if p.History[0].UserText != "first" || p.History[2].UserText != "third" {
		t.Errorf("history not oldest-first: %q ... %q", p.History[0].UserText, p.History[2].UserText)
	}
}

func TestAssemble_DropOrderUnderBudget(t *testing.T) {
	st := memstore.New(memory.Config{})
	seedHistory(t, st, "c1", "oldest turn with a fairly long body", "newest turn")
	if _, err := st.UpdateProfile(context.Background(), "c1", memory.ProfileUpdate{RiskAppetite: "low"}); err != nil {
		t.Fatal(err)
	}

	search := &fakeSearcher{results: []core.ScoredChunk{
		scored("best matching chunk", 0.9),
		scored("worst matching chunk", 0.2),
	}}

	ctx := context.Background()
	in := assembler.Input{ClientID: "c1", Message: "question", Language: core.LanguageEnglish}

	// Generous budget keeps everything.
	b, err := assembler.New(search, st, assembler.Config{Counter: assembler.RuneCounter{}, Budget: 100000})
	if err != nil {
		t.Fatal(err)
	}
	full, err := b.Assemble(ctx, in)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(full.History) != 2 || len(full.Chunks) != 2 || full.Profile == "" {
		t.Fatalf("expected full composition, got %d history, %d chunks, profile %q",
			len(full.History), len(full.Chunks), full.Profile)
	}

	// Squeeze the budget one unit at a time and watch the drop order:
	// oldest history, then lowest-similarity chunk, then profile.
	mandatory := assembler.RuneCounter{}.Count(assembler.SystemPrompt(core.LanguageEnglish)) +
		assembler.RuneCounter{}.Count("User: "+in.Message)

	steps := []struct {
		budget      int
		history     int
		chunks      int
		wantProfile bool
	}{
		{full.Tokens - 1, 1, 2, true}, // oldest history entry goes first
		{mandatory + 90, 0, 1, true},  // then the weaker chunk, the stronger survives
		{mandatory + 30, 0, 0, false}, // profile goes last
	}
	for _, step := range steps {
		b, err := assembler.New(search, st, assembler.Config{Counter: assembler.RuneCounter{}, Budget: step.budget})
		if err != nil {
			t.Fatal(err)
		}
		p, err := b.Assemble(ctx, in)
		if err != nil {
			t.Fatalf("Assemble(budget=%d) failed: %v", step.budget, err)
		}
		if len(p.History) != step.history {
			t.Errorf("budget %d: history = %d, want %d", step.budget, len(p.History), step.history)
		}
		if len(p.Chunks) != step.chunks {
			t.Errorf("budget %d: chunks = %d, want %d", step.budget, len(p.Chunks), step.chunks)
		}
		if (p.Profile != "") != step.wantProfile {
			t.Errorf("budget %d: profile kept = %v, want %v", step.budget, p.Profile != "", step.wantProfile)
		}
		if len(p.Chunks) == 1 && p.Chunks[0].Chunk.Text != "best matching chunk" {
			t.Errorf("budget %d: kept the weaker chunk %q", step.budget, p.Chunks[0].Chunk.Text)
		}
		if len(p.History) == 1 && p.History[0].UserText != "newest turn" {
			t.Errorf("budget %d: kept the older history entry", step.budget)
		}
		if p.Tokens > step.budget {
			t.Errorf("budget %d: final size %d exceeds it", step.budget, p.Tokens)
		}
	}
}

func TestAssemble_MandatoryOverflow(t *testing.T) {
	b, err := assembler.New(&fakeSearcher{}, memstore.New(memory.Config{}), assembler.Config{
		Counter: assembler.RuneCounter{},
		Budget:  10,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Assemble(context.Background(), assembler.Input{
		ClientID: "c1",
		Message:  "a message that cannot possibly fit",
		Language: core.LanguageEnglish,
	})
	if !errors.Is(err, core.ErrContextOverflow) {
		t.Errorf("expected ErrContextOverflow, got %v", err)
	}
}

func TestAssemble_Validation(t *testing.T) {
	b, err := assembler.New(&fakeSearcher{}, memstore.New(memory.Config{}), assembler.Config{Counter: assembler.RuneCounter{}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Assemble(context.Background(), assembler.Input{ClientID: "c1"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty message: got %v, want ErrValidation", err)
	}
	if _, err := b.Assemble(context.Background(), assembler.Input{ClientID: "c1", Message: "hi", Language: "fr"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("bad language: got %v, want ErrValidation", err)
	}
}

func TestFallbackMessage_PerLanguage(t *testing.T) {
	if got := assembler.FallbackMessage(core.LanguageHebrew); got != "אירעה שגיאה, אנא נסה שוב" {
		t.Errorf("hebrew fallback = %q", got)
	}
	if got := assembler.FallbackMessage(core.LanguageEnglish); got != "An error occurred, please try again" {
		t.Errorf("english fallback = %q", got)
	}
}

func TestHebrewSystemPromptSelected(t *testing.T) {
	he := assembler.SystemPrompt(core.LanguageHebrew)
	if !strings.Contains(he, "מובנה גלובל") {
		t.Error("hebrew prompt not selected for he")
	}
	en := assembler.SystemPrompt(core.LanguageEnglish)
	if !strings.Contains(en, "Movne Global") {
		t.Error("english prompt not selected for en")
	}
}
