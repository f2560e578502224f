package server

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChatRequest is the POST /api/v1/chat body.
type ChatRequest struct {
	Message  string `json:"message" validate:"required"`
	Language string `json:"language" validate:"omitempty,oneof=en he"`
	ClientID string `json:"client_id"`
}

// Validate checks the request against its constraints.
func (r ChatRequest) Validate() error { return validate.Struct(r) }

// ChatResponse is the chat endpoint's reply.
type ChatResponse struct {
	Response  string    `json:"response"`
	ClientID  string    `json:"client_id"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// HistoryMessage is one conversation turn in a history response.
type HistoryMessage struct {
	ID        string    `json:"id"`
	UserText  string    `json:"user_text"`
	Assistant string    `json:"assistant_text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// ProfileResponse is the profile endpoint's reply.
type ProfileResponse struct {
	ClientID          string            `json:"client_id"`
	PreferredLanguage string            `json:"preferred_language"`
	RiskAppetite      string            `json:"risk_appetite,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
	InteractionCount  int               `json:"interaction_count"`
	LastInteraction   time.Time         `json:"last_interaction"`
}

// IngestRequest is the POST /api/v1/documents body.
type IngestRequest struct {
	DocumentID   string            `json:"document_id"`
	Title        string            `json:"title" validate:"required"`
	Content      string            `json:"content" validate:"required"`
	DocumentType string            `json:"document_type" validate:"required,oneof=product_guide regulation marketing_material risk_disclosure term_sheet"`
	Language     string            `json:"language" validate:"omitempty,oneof=en he"`
	Metadata     map[string]string `json:"metadata"`
}

// Validate checks the request against its constraints.
func (r IngestRequest) Validate() error { return validate.Struct(r) }
