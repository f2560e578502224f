// Package chunker splits knowledge-base documents into overlapping
// fixed-size spans, the retrieval unit for the embedding index.
package chunker

import (
	"fmt"

	"github.com/movne/advisor-backend/core"
)

// Config controls the sliding window geometry. Sizes are in code points,
// not bytes, so Hebrew text chunks the same way English does.
type Config struct {
	// WindowSize is the maximum chunk length. Default: 500.
	WindowSize int

	// Overlap is how many code points adjacent chunks share. Default: 50.
	Overlap int

	// DefaultLanguage applies when a document carries no language and the
	// Hebrew-block heuristic finds nothing. Default: English.
	DefaultLanguage core.Language
}

// DefaultConfig returns the standard window geometry.
var DefaultConfig = Config{
	WindowSize:      500,
	Overlap:         50,
	DefaultLanguage: core.LanguageEnglish,
}

// Chunker slides a fixed window across document text.
type Chunker struct {
	cfg Config
}

// New creates a Chunker, validating the window geometry. The overlap must
// be non-negative and strictly smaller than the window, otherwise the
// window could not advance.
func New(cfg Config) (*Chunker, error) {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultConfig.WindowSize
		if cfg.Overlap == 0 {
			cfg.Overlap = DefaultConfig.Overlap
		}
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultConfig.DefaultLanguage
	}
	if cfg.WindowSize < 1 {
		return nil, fmt.Errorf("%w: window size must be positive, got %d", core.ErrValidation, cfg.WindowSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.WindowSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, window %d)", core.ErrValidation, cfg.Overlap, cfg.WindowSize)
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk splits a document into ordered chunks. The union of chunk spans
// covers the whole document; adjacent chunks overlap by exactly the
// configured amount except possibly the last pair, and the final chunk may
// be shorter than the window but is never empty.
//
// The document type must be supported. The language, when set, must be
// supported; when empty it is inferred from the content.
func (c *Chunker) Chunk(doc core.Document) ([]core.Chunk, error) {
	if !doc.Type.Valid() {
		return nil, fmt.Errorf("%w: unsupported document type %q", core.ErrValidation, doc.Type)
	}

	lang := doc.Language
	if lang == "" {
		lang = core.DetectLanguage(doc.Content, c.cfg.DefaultLanguage)
	} else if !lang.Valid() {
		return nil, fmt.Errorf("%w: unsupported language %q", core.ErrValidation, doc.Language)
	}

	runes := []rune(doc.Content)
	if len(runes) == 0 {
		return nil, fmt.Errorf("%w: document %q has no content", core.ErrValidation, doc.ID)
	}

	step := c.cfg.WindowSize - c.cfg.Overlap

	var chunks []core.Chunk
	for start, seq := 0, 0; start < len(runes); start, seq = start+step, seq+1 {
		end := start + c.cfg.WindowSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, core.Chunk{
			DocumentID: doc.ID,
			Seq:        seq,
			Text:       string(runes[start:end]),
			Offset:     start,
			Length:     end - start,
			Type:       doc.Type,
			Language:   lang,
		})

		// A window that already reached the end fully covers the tail;
		// stepping again would emit a chunk contained in this one.
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
