// Package store owns the in-memory projection of conversations and messages.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/harborchat/chatsync/internal/model"
)

// ConversationStore owns the ordered set of conversations, their recency
// ordering and unread counters. All mutations are serialized behind a mutex;
// readers receive copies.
type ConversationStore struct {
	mu   sync.RWMutex
	byID map[string]*model.Conversation
	// ids ordered by UpdatedAt descending, ID ascending on ties
	order []string
}

// NewConversationStore creates an empty conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byID: make(map[string]*model.Conversation),
	}
}

// Upsert inserts a conversation or merges it into the existing entry by id.
// Duplicate upserts are no-ops beyond the field merge: push "created" events
// may race against the REST create response for the same entity.
func (s *ConversationStore) Upsert(conv model.Conversation) {
	if conv.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[conv.ID]
	if !ok {
		c := conv
		s.byID[conv.ID] = &c
		s.insertOrdered(conv.ID)
		return
	}

	// Merge: unread count is never overwritten here, it only moves through
	// Touch and MarkRead.
	if len(conv.Participants) > 0 {
		existing.Participants = conv.Participants
	}
	if conv.Name != "" {
		existing.Name = conv.Name
	}
	if conv.LatestMessage != nil {
		existing.LatestMessage = conv.LatestMessage
	}
	if existing.CreatedAt.IsZero() {
		existing.CreatedAt = conv.CreatedAt
	}
	if conv.UpdatedAt.After(existing.UpdatedAt) {
		existing.UpdatedAt = conv.UpdatedAt
		s.removeOrdered(conv.ID)
		s.insertOrdered(conv.ID)
	}
}

// Remove deletes a conversation. Unknown ids are ignored.
func (s *ConversationStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	s.removeOrdered(id)
}

// Touch promotes a conversation in the recency ordering, optionally replaces
// its latest-message summary, and adjusts the unread counter by the signed
// delta, clamped at zero. Returns false if the id is unknown.
func (s *ConversationStore) Touch(id string, latest *model.Message, updatedAt time.Time, unreadDelta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return false
	}

	if latest != nil {
		m := *latest
		conv.LatestMessage = &m
	}
	if updatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = updatedAt
		s.removeOrdered(id)
		s.insertOrdered(id)
	}
	conv.UnreadCount += unreadDelta
	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}
	return true
}

// SetLatestMessage replaces the latest-message summary without touching
// recency or unread state. A nil summary clears it.
func (s *ConversationStore) SetLatestMessage(id string, latest *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return false
	}
	if latest == nil {
		conv.LatestMessage = nil
	} else {
		m := *latest
		conv.LatestMessage = &m
	}
	return true
}

// MarkRead resets the unread counter to zero. This is the only implicit-free
// path to zero: nothing else resets unread state.
func (s *ConversationStore) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return false
	}
	conv.UnreadCount = 0
	return true
}

// Get returns a copy of the conversation with the given id.
func (s *ConversationStore) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.byID[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *conv, true
}

// List returns the conversations ordered by UpdatedAt descending, ties broken
// by id ascending.
func (s *ConversationStore) List() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// TotalUnread sums unread counters across all conversations.
func (s *ConversationStore) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, conv := range s.byID {
		total += conv.UnreadCount
	}
	return total
}

// insertOrdered places id into the order slice at its sorted position.
// Callers hold the write lock.
func (s *ConversationStore) insertOrdered(id string) {
	conv := s.byID[id]
	i := sort.Search(len(s.order), func(i int) bool {
		other := s.byID[s.order[i]]
		if !other.UpdatedAt.Equal(conv.UpdatedAt) {
			return other.UpdatedAt.Before(conv.UpdatedAt)
		}
		return other.ID >= conv.ID
	})
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = id
}

func (s *ConversationStore) removeOrdered(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
