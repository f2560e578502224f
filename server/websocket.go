package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/movne/advisor-backend/advisor"
	"github.com/movne/advisor-backend/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open on the REST surface too
	},
}

// wsEvent is one server-to-client frame on /ws/chat. Type is "chunk"
// while the response streams, then "done" with the final fields, or
// "error" on a failed request.
type wsEvent struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Response  string    `json:"response,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// handleChatSocket serves multi-turn streamed chat over one websocket
// connection. Each client frame is a ChatRequest; the response streams
// back as chunk events followed by a done event.
func (s *Server) handleChatSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if err := req.Validate(); err != nil {
			if writeErr := conn.WriteJSON(wsEvent{Type: "error", Error: err.Error()}); writeErr != nil {
				return
			}
			continue
		}

		resp, err := s.svc.ChatStream(c.Request.Context(), advisor.ChatRequest{
			ClientID: req.ClientID,
			Message:  req.Message,
			Language: core.Language(req.Language),
		}, func(chunk string, done bool) {
			if done || chunk == "" {
				return
			}
			if err := conn.WriteJSON(wsEvent{Type: "chunk", Content: chunk}); err != nil {
				s.logger.Warn("websocket write failed", "error", err)
			}
		})
		if err != nil {
			if writeErr := conn.WriteJSON(wsEvent{Type: "error", Error: publicError(err)}); writeErr != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(wsEvent{
			Type:      "done",
			Response:  resp.Response,
			ClientID:  resp.ClientID,
			Language:  string(resp.Language),
			Timestamp: resp.Timestamp,
			Degraded:  resp.Degraded,
		}); err != nil {
			return
		}
	}
}

// publicError keeps internal failure detail out of client frames.
func publicError(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return err.Error()
	case errors.Is(err, core.ErrContextOverflow):
		return "message too large for the context budget"
	default:
		return "internal error"
	}
}
