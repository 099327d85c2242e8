package model

// Canonical push-event structs. The channel adapter normalizes duck-typed
// wire payloads into these before they reach the synchronizer; full entities
// (Message, Conversation) travel as themselves.

// MessageDeletedEvent announces a deleted message.
type MessageDeletedEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// TypingEvent signals composing state for a user in a conversation.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresenceEvent signals a user coming online or going offline.
type PresenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
