// Package server is the HTTP surface: thin gin adapters over the advisor
// service, plus a websocket endpoint for streamed chat.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/movne/advisor-backend/advisor"
	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/generate"
)

// Advisor is the service surface the handlers call. *advisor.Service
// satisfies it.
type Advisor interface {
	Chat(ctx context.Context, req advisor.ChatRequest) (*advisor.ChatResponse, error)
	ChatStream(ctx context.Context, req advisor.ChatRequest, fn generate.StreamFunc) (*advisor.ChatResponse, error)
	History(ctx context.Context, clientID string, limit int, lang core.Language) ([]core.Message, error)
	Profile(ctx context.Context, clientID string) (*core.ClientProfile, error)
	Ingest(ctx context.Context, in advisor.IngestInput) (*advisor.IngestResult, error)
}

// Server holds the router and its dependencies.
type Server struct {
	svc    Advisor
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router. logger must not be nil.
func New(svc Advisor, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())

	s := &Server{svc: svc, logger: logger, engine: engine}

	engine.GET("/health", s.handleHealth)
	engine.GET("/ws/chat", s.handleChatSocket)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/chat", s.handleChat)
		v1.GET("/history/:client_id", s.handleHistory)
		v1.GET("/profile/:client_id", s.handleProfile)
		v1.POST("/documents", s.handleIngest)
	}
	return s
}

// Handler exposes the router for http.Server wiring and tests.
func (s *Server) Handler() http.Handler { return s.engine }

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", err))
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request", err))
		return
	}

	resp, err := s.svc.Chat(c.Request.Context(), advisor.ChatRequest{
		ClientID: req.ClientID,
		Message:  req.Message,
		Language: core.Language(req.Language),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		Response:  resp.Response,
		ClientID:  resp.ClientID,
		Language:  string(resp.Language),
		Timestamp: resp.Timestamp,
		Degraded:  resp.Degraded,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	clientID := c.Param("client_id")

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody("limit must be a positive integer", nil))
			return
		}
		limit = n
	}

	messages, err := s.svc.History(c.Request.Context(), clientID, limit, core.Language(c.Query("language")))
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]HistoryMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, HistoryMessage{
			ID:        msg.ID,
			UserText:  msg.UserText,
			Assistant: msg.Assistant,
			Language:  string(msg.Language),
			Timestamp: msg.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"client_id": clientID, "messages": out})
}

func (s *Server) handleProfile(c *gin.Context) {
	clientID := c.Param("client_id")

	profile, err := s.svc.Profile(c.Request.Context(), clientID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, errorBody("profile not found", nil))
		return
	}

	c.JSON(http.StatusOK, ProfileResponse{
		ClientID:          profile.ClientID,
		PreferredLanguage: string(profile.PreferredLanguage),
		RiskAppetite:      profile.RiskAppetite,
		Fields:            profile.Fields,
		InteractionCount:  profile.InteractionCount,
		LastInteraction:   profile.LastInteraction,
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body", err))
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request", err))
		return
	}

	res, err := s.svc.Ingest(c.Request.Context(), advisor.IngestInput{
		DocumentID: req.DocumentID,
		Title:      req.Title,
		Content:    req.Content,
		Type:       core.DocumentType(req.DocumentType),
		Language:   core.Language(req.Language),
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"document_id": res.DocumentID,
		"version":     res.Version,
		"chunks":      res.Chunks,
	})
}

// writeError maps the failure taxonomy onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody("validation failed", err))
	case errors.Is(err, core.ErrContextOverflow):
		c.JSON(http.StatusRequestEntityTooLarge, errorBody("message too large for the context budget", err))
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal error", nil))
	}
}

func errorBody(msg string, err error) gin.H {
	body := gin.H{"error": msg}
	if err != nil {
		body["detail"] = err.Error()
	}
	return body
}
