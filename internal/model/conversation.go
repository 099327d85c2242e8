// Package model defines data structures for the chat synchronization engine.
package model

import (
	"time"
)

// User identifies a chat participant.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Conversation represents a conversation thread.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []User    `json:"participants"`
	Name          string    `json:"name,omitempty"`
	LatestMessage *Message  `json:"latest_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	UnreadCount   int       `json:"unread_count"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// DeleteResponse is the response for delete operations.
type DeleteResponse struct {
	Success bool `json:"success"`
}
