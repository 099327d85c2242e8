// Package channel defines the push-event transport boundary and the adapter
// that normalizes wire payloads into canonical event structs.
package channel

import (
	"context"
	"encoding/json"
)

// Canonical event names carried over the push channel.
const (
	// Presence
	EventUserConnected    = "user:connected"
	EventUserDisconnected = "user:disconnected"
	EventOnlineUsers      = "onlineUsers"
	EventUserOnline       = "userOnline"
	EventUserOffline      = "userOffline"

	// Room membership
	EventJoinChat  = "joinChat"
	EventLeaveChat = "leaveChat"

	// Conversation lifecycle
	EventConversationCreate  = "conversation:create"
	EventConversationCreated = "conversation:created"
	EventConversationDelete  = "conversation:delete"
	EventConversationDeleted = "conversation:deleted"

	// Message lifecycle
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventMessageSent    = "messageSent"
	EventUpdateMessage  = "updateMessage"
	EventMessageUpdated = "messageUpdated"
	EventDeleteMessage  = "deleteMessage"
	EventMessageDeleted = "messageDeleted"

	// Typing: emitted as "typing", delivered back as "userTyping"
	EventTyping     = "typing"
	EventUserTyping = "userTyping"
)

// Handler consumes a raw event payload. Handlers for the same channel are
// never invoked concurrently.
type Handler func(payload json.RawMessage)

// Channel is an asynchronous bidirectional event transport. Delivery is
// at-most-once and possibly duplicated; consumers compensate with
// idempotent merges. The connection is a session-scoped resource owned
// exclusively by the synchronizer.
type Channel interface {
	// Connect establishes the transport. It returns once connected or
	// failed; reconnects after that are reported through OnStatus.
	Connect(ctx context.Context) error

	// Close tears the connection down. The channel cannot be reused.
	Close() error

	// Connected reports the current transport state.
	Connected() bool

	// Emit sends a named event. Best effort: errors indicate the payload
	// never left the client.
	Emit(event string, payload any) error

	// On subscribes a handler to a named event and returns its
	// unsubscribe function.
	On(event string, h Handler) (off func())

	// OnStatus subscribes to connect/disconnect transitions.
	OnStatus(fn func(connected bool)) (off func())
}
