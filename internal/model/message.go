package model

import (
	"time"
)

// MessageType represents the content type of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeFile  MessageType = "file"
)

// MessageStatus represents the lifecycle state of a message.
type MessageStatus string

const (
	// StatusPending marks a locally created message awaiting confirmation.
	StatusPending MessageStatus = "pending"
	// StatusConfirmed marks a server-acknowledged message.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks a local message whose send was rejected.
	StatusFailed MessageStatus = "failed"
	// StatusDeleted is terminal.
	StatusDeleted MessageStatus = "deleted"
)

// Attachment is an opaque reference to uploaded media.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message represents a conversation message. While pending, ID holds a
// client-generated temporary id that the gateway response replaces in place.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Sender         User          `json:"sender"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Status         MessageStatus `json:"status"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	ConversationID string       `json:"conversation_id"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"type,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// MessagePatch is a partial update to an existing message.
type MessagePatch struct {
	Content     *string      `json:"content,omitempty"`
	Type        *MessageType `json:"type,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ListMessagesResponse is the response for listing a conversation's messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// TypingState is the ephemeral composing indicator for one user in one
// conversation. Not persisted.
type TypingState struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
}
