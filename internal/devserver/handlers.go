package devserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/model"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dev server: accept any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CreateConversation handles POST /api/v1/conversations
func (s *Server) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := s.store.CreateConversation(user, req)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /api/v1/conversations
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	convs := s.store.ListConversations(user.ID)
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}
func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteConversation(user.ID, id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeleteResponse{Success: true})
}

// ListMessages handles GET /api/v1/messages/{conversationID}
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	msgs, err := s.store.ListMessages(user.ID, conversationID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListMessagesResponse{
		Messages: msgs,
		Total:    len(msgs),
	})
}

// SendMessage handles POST /api/v1/messages
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.store.CreateMessage(user, req)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// UpdateMessage handles PUT /api/v1/messages/{id}
func (s *Server) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	id := chi.URLParam(r, "id")

	var patch model.MessagePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.store.UpdateMessage(user.ID, id, patch)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/v1/messages/{id}
func (s *Server) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := s.store.DeleteMessage(user.ID, id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeleteResponse{Success: true})
}

// ServeWS handles GET /ws: it upgrades the connection and attaches the
// client to the hub.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		UserID: user.ID,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    s.hub,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeError(w, appErr.Status, appErr.Message)
		return
	}
	s.logger.Error("unexpected error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
