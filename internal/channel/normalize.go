package channel

import (
	"encoding/json"
	"time"

	"github.com/harborchat/chatsync/internal/model"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
)

// Wire payloads are duck-typed: entity ids arrive as plain strings, as
// {"_id": ...} objects, or nested under different field names depending on
// which backend route produced the event. Everything is normalized here, at
// the channel boundary, so reconciliation logic only ever sees the canonical
// schema.

// flexID accepts "abc", {"_id": "abc"} and {"id": "abc"}.
type flexID struct {
	Value string
}

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.Value = s
		return nil
	}
	var obj struct {
		ID    string `json:"_id"`
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.ID != "" {
		f.Value = obj.ID
	} else {
		f.Value = obj.AltID
	}
	return nil
}

// flexTime accepts RFC3339 timestamps and treats null/empty as the zero time.
type flexTime struct {
	Value time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			f.Value = t
			return nil
		}
	}
	return nil
}

type wireUser struct {
	ID         string `json:"_id"`
	AltID      string `json:"id"`
	FirstName  string `json:"firstName"`
	FirstSnake string `json:"first_name"`
	LastName   string `json:"lastName"`
	LastSnake  string `json:"last_name"`
	Email      string `json:"email"`
}

func (u wireUser) toModel() model.User {
	id := u.ID
	if id == "" {
		id = u.AltID
	}
	first := u.FirstName
	if first == "" {
		first = u.FirstSnake
	}
	last := u.LastName
	if last == "" {
		last = u.LastSnake
	}
	return model.User{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Email:     u.Email,
	}
}

type wireMessage struct {
	ID             string             `json:"_id"`
	AltID          string             `json:"id"`
	ConversationID *flexID            `json:"conversationId"`
	ConvIDSnake    *flexID            `json:"conversation_id"`
	Chat           *flexID            `json:"chat"`
	ChatID         *flexID            `json:"chatId"`
	Sender         wireUser           `json:"sender"`
	Content        string             `json:"content"`
	MessageType    string             `json:"messageType"`
	Type           string             `json:"type"`
	Attachments    []model.Attachment `json:"attachments"`
	CreatedAt      flexTime           `json:"createdAt"`
	CreatedSnake   flexTime           `json:"created_at"`
	UpdatedAt      flexTime           `json:"updatedAt"`
	UpdatedSnake   flexTime           `json:"updated_at"`
}

func (m wireMessage) conversationID() string {
	for _, f := range []*flexID{m.ConversationID, m.ConvIDSnake, m.Chat, m.ChatID} {
		if f != nil && f.Value != "" {
			return f.Value
		}
	}
	return ""
}

// DecodeMessage normalizes a message payload from receiveMessage,
// messageSent or messageUpdated.
func DecodeMessage(raw json.RawMessage) (model.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Message{}, apperrors.Validation("malformed message payload", err)
	}

	id := w.ID
	if id == "" {
		id = w.AltID
	}
	convID := w.conversationID()
	if id == "" || convID == "" {
		return model.Message{}, apperrors.Validation("message payload missing id or conversation id", nil)
	}

	msgType := w.MessageType
	if msgType == "" {
		msgType = w.Type
	}
	if msgType == "" {
		msgType = string(model.MessageTypeText)
	}

	created := w.CreatedAt.Value
	if created.IsZero() {
		created = w.CreatedSnake.Value
	}
	updated := w.UpdatedAt.Value
	if updated.IsZero() {
		updated = w.UpdatedSnake.Value
	}

	return model.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         w.Sender.toModel(),
		Content:        w.Content,
		Type:           model.MessageType(msgType),
		Attachments:    w.Attachments,
		CreatedAt:      created,
		UpdatedAt:      updated,
		Status:         model.StatusConfirmed,
	}, nil
}

type wireConversation struct {
	ID            string          `json:"_id"`
	AltID         string          `json:"id"`
	Participants  []wireUser      `json:"participants"`
	Name          string          `json:"name"`
	LatestMessage json.RawMessage `json:"latestMessage"`
	CreatedAt     flexTime        `json:"createdAt"`
	UpdatedAt     flexTime        `json:"updatedAt"`
	UnreadCount   int             `json:"unreadCount"`
}

// DecodeConversation normalizes a conversation:created payload. The
// latestMessage field arrives either as a bare content string or as a full
// message object.
func DecodeConversation(raw json.RawMessage) (model.Conversation, error) {
	var w wireConversation
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Conversation{}, apperrors.Validation("malformed conversation payload", err)
	}

	id := w.ID
	if id == "" {
		id = w.AltID
	}
	if id == "" {
		return model.Conversation{}, apperrors.Validation("conversation payload missing id", nil)
	}

	conv := model.Conversation{
		ID:          id,
		Name:        w.Name,
		CreatedAt:   w.CreatedAt.Value,
		UpdatedAt:   w.UpdatedAt.Value,
		UnreadCount: w.UnreadCount,
	}
	for _, p := range w.Participants {
		conv.Participants = append(conv.Participants, p.toModel())
	}

	if len(w.LatestMessage) > 0 && string(w.LatestMessage) != "null" {
		var content string
		if err := json.Unmarshal(w.LatestMessage, &content); err == nil {
			if content != "" {
				conv.LatestMessage = &model.Message{
					ConversationID: id,
					Content:        content,
					Type:           model.MessageTypeText,
					Status:         model.StatusConfirmed,
				}
			}
		} else if msg, err := DecodeMessage(w.LatestMessage); err == nil {
			conv.LatestMessage = &msg
		}
	}

	return conv, nil
}

// DecodeConversationID normalizes a conversation:deleted payload, which is
// either a bare id string or an object holding it.
func DecodeConversationID(raw json.RawMessage) (string, error) {
	var f flexID
	if err := json.Unmarshal(raw, &f); err == nil && f.Value != "" {
		return f.Value, nil
	}
	var obj struct {
		ConversationID *flexID `json:"conversationId"`
		Chat           *flexID `json:"chat"`
		ChatID         *flexID `json:"chatId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", apperrors.Validation("malformed conversation id payload", err)
	}
	for _, f := range []*flexID{obj.ConversationID, obj.Chat, obj.ChatID} {
		if f != nil && f.Value != "" {
			return f.Value, nil
		}
	}
	return "", apperrors.Validation("conversation id payload missing id", nil)
}

// DecodeMessageDeleted normalizes a messageDeleted payload.
func DecodeMessageDeleted(raw json.RawMessage) (model.MessageDeletedEvent, error) {
	var obj struct {
		MessageID      *flexID `json:"messageId"`
		ID             *flexID `json:"_id"`
		ConversationID *flexID `json:"conversationId"`
		Chat           *flexID `json:"chat"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.MessageDeletedEvent{}, apperrors.Validation("malformed messageDeleted payload", err)
	}

	var ev model.MessageDeletedEvent
	for _, f := range []*flexID{obj.MessageID, obj.ID} {
		if f != nil && f.Value != "" {
			ev.MessageID = f.Value
			break
		}
	}
	for _, f := range []*flexID{obj.ConversationID, obj.Chat} {
		if f != nil && f.Value != "" {
			ev.ConversationID = f.Value
			break
		}
	}
	if ev.MessageID == "" {
		return model.MessageDeletedEvent{}, apperrors.Validation("messageDeleted payload missing message id", nil)
	}
	return ev, nil
}

// DecodeTyping normalizes a typing payload.
func DecodeTyping(raw json.RawMessage) (model.TypingEvent, error) {
	var obj struct {
		ConversationID *flexID `json:"conversationId"`
		Chat           *flexID `json:"chat"`
		UserID         *flexID `json:"userId"`
		IsTyping       bool    `json:"isTyping"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.TypingEvent{}, apperrors.Validation("malformed typing payload", err)
	}

	var ev model.TypingEvent
	ev.IsTyping = obj.IsTyping
	for _, f := range []*flexID{obj.ConversationID, obj.Chat} {
		if f != nil && f.Value != "" {
			ev.ConversationID = f.Value
			break
		}
	}
	if obj.UserID != nil {
		ev.UserID = obj.UserID.Value
	}
	if ev.ConversationID == "" || ev.UserID == "" {
		return model.TypingEvent{}, apperrors.Validation("typing payload missing conversation or user id", nil)
	}
	return ev, nil
}

// DecodePresence normalizes userOnline/userOffline payloads.
func DecodePresence(raw json.RawMessage, online bool) (model.PresenceEvent, error) {
	var obj struct {
		UserID *flexID `json:"userId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.UserID != nil && obj.UserID.Value != "" {
		return model.PresenceEvent{UserID: obj.UserID.Value, Online: online}, nil
	}
	var f flexID
	if err := json.Unmarshal(raw, &f); err == nil && f.Value != "" {
		return model.PresenceEvent{UserID: f.Value, Online: online}, nil
	}
	return model.PresenceEvent{}, apperrors.Validation("malformed presence payload", nil)
}

// DecodeOnlineUsers normalizes the onlineUsers roster payload.
func DecodeOnlineUsers(raw json.RawMessage) ([]string, error) {
	var users []string
	if err := json.Unmarshal(raw, &users); err == nil {
		return users, nil
	}
	var obj struct {
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, apperrors.Validation("malformed onlineUsers payload", err)
	}
	return obj.Users, nil
}

// Encode helpers produce the legacy wire shape the backend routes expect, so
// inconsistent key naming stays confined to this package.

// EncodeMessage renders a message in wire shape for sendMessage emits and
// server-side fan-out.
func EncodeMessage(m model.Message) map[string]any {
	out := map[string]any{
		"_id":            m.ID,
		"conversationId": m.ConversationID,
		"sender": map[string]any{
			"_id":       m.Sender.ID,
			"firstName": m.Sender.FirstName,
			"lastName":  m.Sender.LastName,
			"email":     m.Sender.Email,
		},
		"content":     m.Content,
		"messageType": string(m.Type),
	}
	if len(m.Attachments) > 0 {
		out["attachments"] = m.Attachments
	}
	if !m.CreatedAt.IsZero() {
		out["createdAt"] = m.CreatedAt.Format(time.RFC3339Nano)
	}
	if !m.UpdatedAt.IsZero() {
		out["updatedAt"] = m.UpdatedAt.Format(time.RFC3339Nano)
	}
	return out
}

// EncodeConversation renders a conversation in wire shape.
func EncodeConversation(c model.Conversation) map[string]any {
	participants := make([]map[string]any, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, map[string]any{
			"_id":       p.ID,
			"firstName": p.FirstName,
			"lastName":  p.LastName,
			"email":     p.Email,
		})
	}
	out := map[string]any{
		"_id":          c.ID,
		"participants": participants,
		"unreadCount":  c.UnreadCount,
	}
	if c.Name != "" {
		out["name"] = c.Name
	}
	if c.LatestMessage != nil {
		out["latestMessage"] = c.LatestMessage.Content
	}
	if !c.CreatedAt.IsZero() {
		out["createdAt"] = c.CreatedAt.Format(time.RFC3339Nano)
	}
	if !c.UpdatedAt.IsZero() {
		out["updatedAt"] = c.UpdatedAt.Format(time.RFC3339Nano)
	}
	return out
}

// EncodeTyping renders a typing signal in wire shape.
func EncodeTyping(ev model.TypingEvent) map[string]any {
	return map[string]any{
		"conversationId": ev.ConversationID,
		"userId":         ev.UserID,
		"isTyping":       ev.IsTyping,
	}
}

// EncodeMessageDeleted renders a message deletion in wire shape.
func EncodeMessageDeleted(ev model.MessageDeletedEvent) map[string]any {
	return map[string]any{
		"messageId":      ev.MessageID,
		"conversationId": ev.ConversationID,
	}
}
