// Package core defines the shared domain model for the advisor backend:
// documents, chunks, conversation messages, client profiles, and the
// error taxonomy used across all services.
package core

import (
	"strconv"
	"time"
	"unicode"
)

// Language identifies a supported conversation/document language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHebrew  Language = "he"
)

// SupportedLanguages lists the languages the backend accepts.
var SupportedLanguages = []Language{LanguageEnglish, LanguageHebrew}

// Valid reports whether the language is a member of the supported set.
func (l Language) Valid() bool {
	for _, s := range SupportedLanguages {
		if l == s {
			return true
		}
	}
	return false
}

// DetectLanguage infers the language of a text with a cheap heuristic:
// any character in the Hebrew Unicode block selects Hebrew, otherwise
// the given default applies.
func DetectLanguage(text string, fallback Language) Language {
	for _, r := range text {
		if unicode.Is(unicode.Hebrew, r) {
			return LanguageHebrew
		}
	}
	return fallback
}

// DocumentType classifies a knowledge-base document.
type DocumentType string

const (
	DocTypeProductGuide      DocumentType = "product_guide"
	DocTypeRegulation        DocumentType = "regulation"
	DocTypeMarketingMaterial DocumentType = "marketing_material"
	DocTypeRiskDisclosure    DocumentType = "risk_disclosure"
	DocTypeTermSheet         DocumentType = "term_sheet"
)

// SupportedDocumentTypes lists the document types the ingestion pipeline accepts.
var SupportedDocumentTypes = []DocumentType{
	DocTypeProductGuide,
	DocTypeRegulation,
	DocTypeMarketingMaterial,
	DocTypeRiskDisclosure,
	DocTypeTermSheet,
}

// Valid reports whether the type is a member of the supported set.
func (d DocumentType) Valid() bool {
	for _, s := range SupportedDocumentTypes {
		if d == s {
			return true
		}
	}
	return false
}

// Document is a raw knowledge-base document. Documents are immutable once
// chunked; re-ingestion creates a new version rather than mutating in place.
type Document struct {
	ID       string
	Title    string
	Content  string
	Type     DocumentType
	Language Language
	Metadata map[string]string
	Version  int
	Created  time.Time
}

// Chunk is a contiguous span of a document's text, the unit of retrieval.
// Offset and Length are measured in code points, not bytes, so windows line
// up with what the chunker counted.
type Chunk struct {
	DocumentID string
	Seq        int // zero-based position within the document
	Text       string
	Offset     int
	Length     int
	Type       DocumentType
	Language   Language
}

// Key returns the chunk's stable identity: document plus sequence index.
// Re-ingesting a document version produces the same keys, so upserts
// replace the prior version's vectors.
func (c Chunk) Key() string {
	return c.DocumentID + "#" + strconv.Itoa(c.Seq)
}

// Message is one completed conversation turn: the user's text and the
// assistant's reply. Messages are immutable once written and append-only
// per client; the writer guarantees non-decreasing timestamps.
type Message struct {
	ID        string
	ClientID  string
	UserText  string
	Assistant string
	Language  Language
	Timestamp time.Time
	Metadata  map[string]string
}

// ClientProfile is the mutable per-client record used to personalize
// prompt composition. Well-known preferences live in named fields; anything
// else goes into the open Fields map. Merges are last-write-wins per field.
type ClientProfile struct {
	ClientID          string
	PreferredLanguage Language
	RiskAppetite      string
	Fields            map[string]string
	InteractionCount  int
	LastInteraction   time.Time
}

// ScoredChunk is a retrieval result: a chunk plus its similarity to the
// query embedding, in [−1, 1] for cosine similarity.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float64
}
