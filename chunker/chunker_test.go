package chunker_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/movne/advisor-backend/chunker"
	"github.com/movne/advisor-backend/core"
)

func mustChunker(t *testing.T, cfg chunker.Config) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestChunk_WindowGeometry(t *testing.T) {
	// 1200 chars, window 500, overlap 50: expect [0,500) [450,950) [900,1200).
	c := mustChunker(t, chunker.Config{WindowSize: 500, Overlap: 50})

	doc := core.Document{
		ID:      "doc1",
		Content: strings.Repeat("a", 1200),
		Type:    core.DocTypeProductGuide,
	}

	chunks, err := c.Chunk(doc)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	wantOffsets := []int{0, 450, 900}
	wantLengths := []int{500, 500, 300}
	for i, ch := range chunks {
		if ch.Offset != wantOffsets[i] || ch.Length != wantLengths[i] {
			t.Errorf("chunk %d: got span [%d,%d), want [%d,%d)",
				i, ch.Offset, ch.Offset+ch.Length, wantOffsets[i], wantOffsets[i]+wantLengths[i])
		}
		if ch.Seq != i {
			t.Errorf("chunk %d: sequence index %d", i, ch.Seq)
		}
	}
}

func TestChunk_CoverageAndOverlap(t *testing.T) {
	cases := []struct {
		name    string
		length  int
		window  int
		overlap int
	}{
		{"exact multiple", 1000, 500, 0},
		{"short tail", 1234, 500, 50},
		{"single window", 300, 500, 50},
		{"window equals doc", 500, 500, 50},
		{"tiny window", 17, 4, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := mustChunker(t, chunker.Config{WindowSize: tc.window, Overlap: tc.overlap})
			doc := core.Document{ID: "d", Content: strings.Repeat("x", tc.length), Type: core.DocTypeRegulation}

			chunks, err := c.Chunk(doc)
			if err != nil {
				t.Fatalf("Chunk failed: %v", err)
			}

			// Full coverage: first chunk starts at 0, last chunk ends at doc end.
			if chunks[0].Offset != 0 {
				t.Errorf("first chunk starts at %d", chunks[0].Offset)
			}
			last := chunks[len(chunks)-1]
			if last.Offset+last.Length != tc.length {
				t.Errorf("last chunk ends at %d, want %d", last.Offset+last.Length, tc.length)
			}

			// Adjacent chunks overlap by exactly the configured amount,
			// except possibly the final pair which may overlap by more when
			// the tail window is clipped.
			for i := 1; i < len(chunks); i++ {
				prevEnd := chunks[i-1].Offset + chunks[i-1].Length
				got := prevEnd - chunks[i].Offset
				if i < len(chunks)-1 && got != tc.overlap {
					t.Errorf("chunks %d/%d overlap by %d, want %d", i-1, i, got, tc.overlap)
				}
				if got < tc.overlap {
					t.Errorf("final pair overlaps by %d, less than configured %d", got, tc.overlap)
				}
				if chunks[i].Length == 0 {
					t.Errorf("chunk %d is empty", i)
				}
			}
		})
	}
}

func TestChunk_HebrewRuneCounting(t *testing.T) {
	// Hebrew letters are multi-byte in UTF-8; window sizes count code
	// points, so 10 letters with window 4 must yield offsets 0,3,6,9.
	c := mustChunker(t, chunker.Config{WindowSize: 4, Overlap: 1})
	doc := core.Document{ID: "he1", Content: strings.Repeat("ש", 10), Type: core.DocTypeRiskDisclosure}

	chunks, err := c.Chunk(doc)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if chunks[0].Language != core.LanguageHebrew {
		t.Errorf("expected inferred language he, got %s", chunks[0].Language)
	}
	for _, ch := range chunks {
		if n := len([]rune(ch.Text)); n != ch.Length {
			t.Errorf("chunk %d: text has %d runes but Length=%d", ch.Seq, n, ch.Length)
		}
	}
}

func TestChunk_LanguageInference(t *testing.T) {
	c := mustChunker(t, chunker.Config{})

	en, err := c.Chunk(core.Document{ID: "e", Content: "structured products overview", Type: core.DocTypeProductGuide})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if en[0].Language != core.LanguageEnglish {
		t.Errorf("expected default en, got %s", en[0].Language)
	}

	he, err := c.Chunk(core.Document{ID: "h", Content: "מוצרים מובנים", Type: core.DocTypeProductGuide})
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if he[0].Language != core.LanguageHebrew {
		t.Errorf("expected inferred he, got %s", he[0].Language)
	}
}

func TestChunk_Validation(t *testing.T) {
	c := mustChunker(t, chunker.Config{})

	_, err := c.Chunk(core.Document{ID: "d", Content: "text", Type: "newsletter"})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("unsupported type: got %v, want ErrValidation", err)
	}

	_, err = c.Chunk(core.Document{ID: "d", Content: "text", Type: core.DocTypeTermSheet, Language: "fr"})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("unsupported language: got %v, want ErrValidation", err)
	}

	_, err = c.Chunk(core.Document{ID: "d", Content: "", Type: core.DocTypeTermSheet})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty document: got %v, want ErrValidation", err)
	}

	if _, err := chunker.New(chunker.Config{WindowSize: 100, Overlap: 100}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("overlap >= window: got %v, want ErrValidation", err)
	}
}
