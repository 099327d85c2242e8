// Package devserver is an in-memory REST + websocket chat backend used to
// run the sync engine end to end without external services.
package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborchat/chatsync/internal/model"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
)

// Store holds the server-side source of truth for conversations and
// messages.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message
	byMessageID   map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]*model.Message),
		byMessageID:   make(map[string]string),
	}
}

// CreateConversation creates a conversation between the caller and another
// participant. Creating the same pair twice yields the existing thread.
func (s *Store) CreateConversation(caller model.User, req model.CreateConversationRequest) (model.Conversation, error) {
	if req.ParticipantID == "" {
		return model.Conversation{}, apperrors.Validation("participant_id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.conversations {
		if conv.Name == "" && len(conv.Participants) == 2 && hasParticipant(conv, caller.ID) && hasParticipant(conv, req.ParticipantID) {
			return *conv, nil
		}
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Participants: []model.User{caller, {ID: req.ParticipantID}},
		Name:         req.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	return *conv, nil
}

// ListConversations returns the caller's conversations, most recent first.
func (s *Store) ListConversations(userID string) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for _, conv := range s.conversations {
		if hasParticipant(conv, userID) {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return apperrors.NotFound("conversation")
	}
	if !hasParticipant(conv, userID) {
		return apperrors.NotFound("conversation")
	}

	for _, msg := range s.messages[conversationID] {
		delete(s.byMessageID, msg.ID)
	}
	delete(s.messages, conversationID)
	delete(s.conversations, conversationID)
	return nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(userID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok || !hasParticipant(conv, userID) {
		return nil, apperrors.NotFound("conversation")
	}

	list := s.messages[conversationID]
	out := make([]model.Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out, nil
}

// CreateMessage appends a message and refreshes the conversation summary.
func (s *Store) CreateMessage(sender model.User, req model.SendMessageRequest) (model.Message, error) {
	if req.Content == "" && len(req.Attachments) == 0 {
		return model.Message{}, apperrors.Validation("message content is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[req.ConversationID]
	if !ok || !hasParticipant(conv, sender.ID) {
		return model.Message{}, apperrors.NotFound("conversation")
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	now := time.Now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: req.ConversationID,
		Sender:         sender,
		Content:        req.Content,
		Type:           msgType,
		Attachments:    req.Attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         model.StatusConfirmed,
	}
	s.messages[req.ConversationID] = append(s.messages[req.ConversationID], msg)
	s.byMessageID[msg.ID] = req.ConversationID

	latest := *msg
	conv.LatestMessage = &latest
	conv.UpdatedAt = now
	return *msg, nil
}

// UpdateMessage patches a message the caller authored.
func (s *Store) UpdateMessage(userID, messageID string, patch model.MessagePatch) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(messageID)
	if msg == nil {
		return model.Message{}, apperrors.NotFound("message")
	}
	if msg.Sender.ID != userID {
		return model.Message{}, apperrors.Conflict("cannot edit another user's message")
	}

	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Type != nil {
		msg.Type = *patch.Type
	}
	if patch.Attachments != nil {
		msg.Attachments = patch.Attachments
	}
	msg.UpdatedAt = time.Now()

	if conv, ok := s.conversations[msg.ConversationID]; ok {
		if conv.LatestMessage != nil && conv.LatestMessage.ID == msg.ID {
			latest := *msg
			conv.LatestMessage = &latest
		}
	}
	return *msg, nil
}

// DeleteMessage removes a message the caller authored and recomputes the
// conversation summary from the remaining tail.
func (s *Store) DeleteMessage(userID, messageID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(messageID)
	if msg == nil {
		return model.Message{}, apperrors.NotFound("message")
	}
	if msg.Sender.ID != userID {
		return model.Message{}, apperrors.Conflict("cannot delete another user's message")
	}
	removed := *msg

	list := s.messages[msg.ConversationID]
	for i, m := range list {
		if m.ID == messageID {
			s.messages[msg.ConversationID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(s.byMessageID, messageID)

	if conv, ok := s.conversations[removed.ConversationID]; ok {
		if conv.LatestMessage != nil && conv.LatestMessage.ID == messageID {
			rest := s.messages[removed.ConversationID]
			if len(rest) > 0 {
				latest := *rest[len(rest)-1]
				conv.LatestMessage = &latest
			} else {
				conv.LatestMessage = nil
			}
		}
	}
	return removed, nil
}

func (s *Store) findLocked(messageID string) *model.Message {
	convID, ok := s.byMessageID[messageID]
	if !ok {
		return nil
	}
	for _, m := range s.messages[convID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func hasParticipant(conv *model.Conversation, userID string) bool {
	for _, p := range conv.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
