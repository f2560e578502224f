// Package advisor is the service layer tying the retrieval and
// conversation components together: it orchestrates chat turns and runs
// the document ingestion pipeline.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/movne/advisor-backend/assembler"
	"github.com/movne/advisor-backend/chunker"
	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/generate"
	"github.com/movne/advisor-backend/index"
	"github.com/movne/advisor-backend/memory"
)

// Index is the write-and-search surface of a vector backend. Both the
// native flat index and the chromem store satisfy it.
type Index interface {
	index.Searcher
	Upsert(ctx context.Context, chunks []core.Chunk) error
}

// DocumentRegistry persists versioned document records. Optional; without
// one, ingested documents are chunked and indexed but not recorded.
type DocumentRegistry interface {
	SaveDocument(ctx context.Context, doc core.Document) error
	LatestVersion(ctx context.Context, title string) (int, error)
}

// Config holds service-level settings.
type Config struct {
	// DefaultLanguage is used when a request carries no language and the
	// text gives no signal. Default English.
	DefaultLanguage core.Language

	// GenerationTimeout bounds the generation call per turn. Default 60s.
	GenerationTimeout time.Duration

	// Generation sampling parameters passed through to the backend.
	Generation generate.Params
}

// Service orchestrates chat turns and ingestion.
type Service struct {
	chunker  *chunker.Chunker
	index    Index
	store    memory.Store
	builder  *assembler.Builder
	gen      generate.Generator
	registry DocumentRegistry
	cfg      Config

	// Per-client locks serialize turns so history append order matches
	// request arrival order. Clients are independent.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a Service. registry may be nil.
func New(ch *chunker.Chunker, idx Index, store memory.Store, builder *assembler.Builder, gen generate.Generator, registry DocumentRegistry, cfg Config) *Service {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = core.LanguageEnglish
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	return &Service{
		chunker:  ch,
		index:    idx,
		store:    store,
		builder:  builder,
		gen:      gen,
		registry: registry,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// ChatRequest is one user turn. An empty ClientID gets a generated guest
// identity; an empty Language is inferred from the message text.
type ChatRequest struct {
	ClientID string
	Message  string
	Language core.Language
}

// ChatResponse is the completed turn. Degraded is true when generation
// failed and Response carries the per-language fallback text; nothing is
// appended to the conversation log in that case.
type ChatResponse struct {
	Response  string
	ClientID  string
	Language  core.Language
	Timestamp time.Time
	Degraded  bool
}

// Chat runs one turn: assemble, generate, and on success append the
// message and update the profile. A failed or timed-out generation leaves
// the conversation log untouched and returns the fallback response.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return s.chat(ctx, req, nil)
}

// ChatStream is Chat with the response streamed through fn as it is
// generated. The conversation log still only sees the final full text.
func (s *Service) ChatStream(ctx context.Context, req ChatRequest, fn generate.StreamFunc) (*ChatResponse, error) {
	return s.chat(ctx, req, fn)
}

func (s *Service) chat(ctx context.Context, req ChatRequest, fn generate.StreamFunc) (*ChatResponse, error) {
	clientID := req.ClientID
	if clientID == "" {
		clientID = "guest-" + uuid.New().String()
	}
	lang := req.Language
	if lang == "" {
		lang = core.DetectLanguage(req.Message, s.cfg.DefaultLanguage)
	}

	lock := s.clientLock(clientID)
	lock.Lock()
	defer lock.Unlock()

	prompt, err := s.builder.Assemble(ctx, assembler.Input{
		ClientID: clientID,
		Message:  req.Message,
		Language: lang,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	var text string
	if fn != nil {
		text, err = s.gen.Stream(genCtx, prompt, s.cfg.Generation, fn)
	} else {
		text, err = s.gen.Generate(genCtx, prompt, s.cfg.Generation)
	}
	if err != nil {
		// Degraded response; the log stays clean so a retry starts fresh.
		log.Printf("[CHAT] generation failed for client %s: %v", clientID, err)
		if !errors.Is(err, core.ErrGeneration) {
			return nil, err
		}
		return &ChatResponse{
			Response:  assembler.FallbackMessage(lang),
			ClientID:  clientID,
			Language:  lang,
			Timestamp: time.Now(),
			Degraded:  true,
		}, nil
	}

	msg, err := s.store.AppendMessage(ctx, clientID, req.Message, text, lang, nil)
	if err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}
	if _, err := s.store.UpdateProfile(ctx, clientID, memory.ProfileUpdate{PreferredLanguage: lang}); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	return &ChatResponse{
		Response:  text,
		ClientID:  clientID,
		Language:  lang,
		Timestamp: msg.Timestamp,
	}, nil
}

// clientLock returns the mutex for one client, creating it on first use.
func (s *Service) clientLock(clientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[clientID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[clientID] = lock
	}
	return lock
}

// History returns the client's recent turns, newest first.
func (s *Service) History(ctx context.Context, clientID string, limit int, lang core.Language) ([]core.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.History(ctx, clientID, memory.HistoryQuery{Limit: limit, Language: lang})
}

// Profile returns the client's profile, or nil when none exists.
func (s *Service) Profile(ctx context.Context, clientID string) (*core.ClientProfile, error) {
	return s.store.Profile(ctx, clientID)
}

// IngestInput describes one document to ingest. DocumentID defaults to
// the title; keeping it stable across re-ingestions is what makes a new
// version replace the old version's chunk vectors.
type IngestInput struct {
	DocumentID string
	Title      string
	Content    string
	Type       core.DocumentType
	Language   core.Language
	Metadata   map[string]string
}

// IngestResult reports what an ingestion produced.
type IngestResult struct {
	DocumentID string
	Version    int
	Chunks     int
}

// Ingest runs the write path: validate and chunk the document, embed and
// index the chunks, then record the document version. The index write
// happens before the registry write, so a registry failure never leaves a
// recorded version whose chunks were not indexed.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: missing document title", core.ErrValidation)
	}
	docID := in.DocumentID
	if docID == "" {
		docID = in.Title
	}

	version := 1
	if s.registry != nil {
		prev, err := s.registry.LatestVersion(ctx, in.Title)
		if err != nil {
			return nil, fmt.Errorf("look up document version: %w", err)
		}
		version = prev + 1
	}

	doc := core.Document{
		ID:       docID,
		Title:    in.Title,
		Content:  in.Content,
		Type:     in.Type,
		Language: in.Language,
		Metadata: in.Metadata,
		Version:  version,
		Created:  time.Now(),
	}

	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}

	if err := s.index.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("index document: %w", err)
	}

	if s.registry != nil {
		if err := s.registry.SaveDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("record document: %w", err)
		}
	}

	log.Printf("[INGEST] document %s v%d: %d chunks", docID, version, len(chunks))
	return &IngestResult{DocumentID: docID, Version: version, Chunks: len(chunks)}, nil
}
