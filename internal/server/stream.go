package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/hyperjump/storyforge/internal/storyteller"
	"go.uber.org/zap"
)

// Stream message types.
const (
	msgChunk = "chunk"
	msgDone  = "done"
	msgError = "error"
)

type streamMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Story   string `json:"story,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleStreamStory upgrades to a websocket, reads one story request and
// streams the generation as chunk messages followed by a done message.
func (s *Server) handleStreamStory(w http.ResponseWriter, r *http.Request) {
	if s.teller == nil {
		s.respondError(w, http.StatusNotImplemented, "story generation not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req storyteller.StoryRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(streamMessage{Type: msgError, Error: "invalid story request"})
		return
	}

	var full strings.Builder
	err = s.teller.StreamStory(r.Context(), req, func(chunk string) error {
		full.WriteString(chunk)
		return conn.WriteJSON(streamMessage{Type: msgChunk, Content: chunk})
	})
	if err != nil {
		s.logger.Warn("story stream failed", zap.Error(err))
		_ = conn.WriteJSON(streamMessage{Type: msgError, Error: err.Error()})
	} else {
		_ = conn.WriteJSON(streamMessage{Type: msgDone, Story: storyteller.PostProcess(full.String())})
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
