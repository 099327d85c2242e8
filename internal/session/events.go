package session

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/channel"
	"github.com/harborchat/chatsync/pkg/metrics"
)

// registerHandlers attaches one long-lived handler per canonical event.
// Subscriptions live for the whole session, independent of any view
// lifecycle, and are released in Stop.
func (s *Session) registerHandlers() {
	s.offs = append(s.offs,
		s.ch.On(channel.EventConversationCreated, s.onConversationCreated),
		s.ch.On(channel.EventConversationDeleted, s.onConversationDeleted),
		s.ch.On(channel.EventReceiveMessage, s.onReceiveMessage),
		s.ch.On(channel.EventMessageSent, s.onMessageSent),
		s.ch.On(channel.EventMessageUpdated, s.onMessageUpdated),
		s.ch.On(channel.EventMessageDeleted, s.onMessageDeleted),
		s.ch.On(channel.EventTyping, s.onTyping),
		s.ch.On(channel.EventUserTyping, s.onTyping),
		s.ch.On(channel.EventUserOnline, s.onUserOnline),
		s.ch.On(channel.EventUserOffline, s.onUserOffline),
		s.ch.On(channel.EventOnlineUsers, s.onOnlineUsers),
	)
}

func (s *Session) dropEvent(event, reason string, err error) {
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	if err != nil {
		s.logger.Warn("dropping push event",
			zap.String("event", event), zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Session) onConversationCreated(raw json.RawMessage) {
	conv, err := channel.DecodeConversation(raw)
	if err != nil {
		s.dropEvent(channel.EventConversationCreated, "malformed", err)
		return
	}

	// Upsert is idempotent by id: this may race the REST create response
	// for the same conversation, in either order.
	s.mu.Lock()
	s.conversations.Upsert(conv)
	s.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(channel.EventConversationCreated).Inc()
	s.notify(Change{Kind: ChangeConversations})
}

func (s *Session) onConversationDeleted(raw json.RawMessage) {
	id, err := channel.DecodeConversationID(raw)
	if err != nil {
		s.dropEvent(channel.EventConversationDeleted, "malformed", err)
		return
	}

	s.mu.Lock()
	s.conversations.Remove(id)
	s.messages.DropConversation(id)
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()
	s.typing.ClearConversation(id)

	metrics.EventsApplied.WithLabelValues(channel.EventConversationDeleted).Inc()
	metrics.UnreadTotal.Set(float64(s.conversations.TotalUnread()))
	s.notify(Change{Kind: ChangeConversations})
	s.notify(Change{Kind: ChangeMessages, ConversationID: id})
}

func (s *Session) onReceiveMessage(raw json.RawMessage) {
	msg, err := channel.DecodeMessage(raw)
	if err != nil {
		s.dropEvent(channel.EventReceiveMessage, "malformed", err)
		return
	}

	s.mu.Lock()
	if !s.messages.Insert(msg) {
		s.mu.Unlock()
		s.dropEvent(channel.EventReceiveMessage, "duplicate", nil)
		return
	}

	// Unread increments only when the sender is someone else AND the
	// conversation is not the one currently in focus.
	unread := 0
	if msg.Sender.ID != s.self.ID && s.active != msg.ConversationID {
		unread = 1
	}
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	s.conversations.Touch(msg.ConversationID, &msg, ts, unread)
	s.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(channel.EventReceiveMessage).Inc()
	metrics.UnreadTotal.Set(float64(s.conversations.TotalUnread()))
	s.notify(Change{Kind: ChangeMessages, ConversationID: msg.ConversationID})
	s.notify(Change{Kind: ChangeConversations})
}

// onMessageSent handles the self echo from another of the user's sessions.
// Insert-if-absent keeps the count right when the echo duplicates a local
// optimistic send; recency moves without touching unread.
func (s *Session) onMessageSent(raw json.RawMessage) {
	msg, err := channel.DecodeMessage(raw)
	if err != nil {
		s.dropEvent(channel.EventMessageSent, "malformed", err)
		return
	}

	s.mu.Lock()
	inserted := s.messages.Insert(msg)
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	s.conversations.Touch(msg.ConversationID, &msg, ts, 0)
	s.mu.Unlock()

	if !inserted {
		s.dropEvent(channel.EventMessageSent, "duplicate", nil)
	} else {
		metrics.EventsApplied.WithLabelValues(channel.EventMessageSent).Inc()
		s.notify(Change{Kind: ChangeMessages, ConversationID: msg.ConversationID})
	}
	s.notify(Change{Kind: ChangeConversations})
}

func (s *Session) onMessageUpdated(raw json.RawMessage) {
	msg, err := channel.DecodeMessage(raw)
	if err != nil {
		s.dropEvent(channel.EventMessageUpdated, "malformed", err)
		return
	}

	s.mu.Lock()
	stored, ok := s.messages.Get(msg.ID)
	if !ok {
		s.mu.Unlock()
		s.dropEvent(channel.EventMessageUpdated, "unknown_id", nil)
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = stored.CreatedAt
	}
	if msg.Sender.ID == "" {
		msg.Sender = stored.Sender
	}
	s.messages.Replace(msg)

	// If the edited message is the conversation's latest, its summary
	// must follow.
	if conv, ok := s.conversations.Get(msg.ConversationID); ok {
		if conv.LatestMessage != nil && conv.LatestMessage.ID == msg.ID {
			s.conversations.SetLatestMessage(msg.ConversationID, &msg)
		}
	}
	s.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(channel.EventMessageUpdated).Inc()
	s.notify(Change{Kind: ChangeMessages, ConversationID: msg.ConversationID})
	s.notify(Change{Kind: ChangeConversations})
}

func (s *Session) onMessageDeleted(raw json.RawMessage) {
	ev, err := channel.DecodeMessageDeleted(raw)
	if err != nil {
		s.dropEvent(channel.EventMessageDeleted, "malformed", err)
		return
	}

	s.mu.Lock()
	removed, ok := s.messages.ApplyDelete(ev.MessageID)
	if !ok {
		s.mu.Unlock()
		s.dropEvent(channel.EventMessageDeleted, "unknown_id", nil)
		return
	}
	s.refreshLatestLocked(removed.ConversationID)
	s.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(channel.EventMessageDeleted).Inc()
	s.notify(Change{Kind: ChangeMessages, ConversationID: removed.ConversationID})
	s.notify(Change{Kind: ChangeConversations})
}

// onTyping forwards to the tracker only; it never touches the stores.
func (s *Session) onTyping(raw json.RawMessage) {
	ev, err := channel.DecodeTyping(raw)
	if err != nil {
		s.dropEvent(channel.EventTyping, "malformed", err)
		return
	}
	if ev.UserID == s.self.ID {
		return
	}
	s.typing.Set(ev.UserID, ev.ConversationID, ev.IsTyping)
}

func (s *Session) onUserOnline(raw json.RawMessage) {
	ev, err := channel.DecodePresence(raw, true)
	if err != nil {
		s.dropEvent(channel.EventUserOnline, "malformed", err)
		return
	}
	s.mu.Lock()
	s.online[ev.UserID] = true
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePresence})
}

func (s *Session) onUserOffline(raw json.RawMessage) {
	ev, err := channel.DecodePresence(raw, false)
	if err != nil {
		s.dropEvent(channel.EventUserOffline, "malformed", err)
		return
	}
	s.mu.Lock()
	delete(s.online, ev.UserID)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePresence})
}

func (s *Session) onOnlineUsers(raw json.RawMessage) {
	users, err := channel.DecodeOnlineUsers(raw)
	if err != nil {
		s.dropEvent(channel.EventOnlineUsers, "malformed", err)
		return
	}
	s.mu.Lock()
	s.online = make(map[string]bool, len(users))
	for _, id := range users {
		s.online[id] = true
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePresence})
}
