// Package gateway defines the consumed REST interface for conversations and
// messages, plus its HTTP implementation.
package gateway

import (
	"context"

	"github.com/harborchat/chatsync/internal/model"
)

// Gateway is the request/response CRUD surface the synchronizer hydrates
// from and writes through. Implementations fail with the typed errors in
// pkg/errors.
type Gateway interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, req model.CreateConversationRequest) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	SendMessage(ctx context.Context, req model.SendMessageRequest) (model.Message, error)
	UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}
