package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/model"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
	"github.com/harborchat/chatsync/pkg/logger"
)

// HTTPGateway talks JSON to the chat REST API with bearer authentication.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPGateway creates a gateway client against the given base URL.
func NewHTTPGateway(baseURL, token string, timeout time.Duration, log *logger.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// ListConversations fetches all conversations for the authenticated user.
func (g *HTTPGateway) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out model.ListConversationsResponse
	if err := g.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation creates a conversation with another participant.
func (g *HTTPGateway) CreateConversation(ctx context.Context, req model.CreateConversationRequest) (model.Conversation, error) {
	var out model.Conversation
	if err := g.do(ctx, http.MethodPost, "/conversations", req, &out); err != nil {
		return model.Conversation{}, err
	}
	return out, nil
}

// DeleteConversation deletes a conversation by id.
func (g *HTTPGateway) DeleteConversation(ctx context.Context, id string) error {
	var out model.DeleteResponse
	return g.do(ctx, http.MethodDelete, "/conversations/"+id, nil, &out)
}

// ListMessages fetches all messages of a conversation.
func (g *HTTPGateway) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out model.ListMessagesResponse
	if err := g.do(ctx, http.MethodGet, "/messages/"+conversationID, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage posts a new message and returns the server-assigned entity.
func (g *HTTPGateway) SendMessage(ctx context.Context, req model.SendMessageRequest) (model.Message, error) {
	var out model.Message
	if err := g.do(ctx, http.MethodPost, "/messages", req, &out); err != nil {
		return model.Message{}, err
	}
	return out, nil
}

// UpdateMessage applies a partial edit and returns the updated entity.
func (g *HTTPGateway) UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error) {
	var out model.Message
	if err := g.do(ctx, http.MethodPut, "/messages/"+id, patch, &out); err != nil {
		return model.Message{}, err
	}
	return out, nil
}

// DeleteMessage deletes a message by id.
func (g *HTTPGateway) DeleteMessage(ctx context.Context, id string) error {
	var out model.DeleteResponse
	return g.do(ctx, http.MethodDelete, "/messages/"+id, nil, &out)
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Validation("failed to encode request body", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return apperrors.Internal("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return apperrors.Transport(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		if msg == "" {
			msg = fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)
		}
		g.logger.Debug("request rejected",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return apperrors.FromStatus(resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return apperrors.Internal("failed to decode response body", err)
		}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
