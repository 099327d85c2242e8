package store

import (
	"sort"
	"sync"

	"github.com/harborchat/chatsync/internal/model"
)

// MessageStore owns per-conversation ordered message lists, including
// locally-pending entries awaiting server confirmation. Push delivery may
// duplicate or race against REST reads, so every insert path checks id
// membership first and no-ops on a known id.
type MessageStore struct {
	mu     sync.RWMutex
	byConv map[string][]*model.Message
	// message id -> conversation id, covering every stored message
	index map[string]string
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConv: make(map[string][]*model.Message),
		index:  make(map[string]string),
	}
}

// ReplaceAll wholesale-replaces a conversation's messages from a REST
// hydration. Input order is not trusted; entries are deduplicated by id and
// sorted by (CreatedAt, ID).
func (s *MessageStore) ReplaceAll(conversationID string, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, old := range s.byConv[conversationID] {
		delete(s.index, old.ID)
	}

	list := make([]*model.Message, 0, len(messages))
	seen := make(map[string]bool, len(messages))
	for _, msg := range messages {
		if msg.ID == "" || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		m := msg
		m.ConversationID = conversationID
		if m.Status == "" {
			m.Status = model.StatusConfirmed
		}
		list = append(list, &m)
		s.index[m.ID] = conversationID
	}
	sort.Slice(list, func(i, j int) bool {
		return messageLess(list[i], list[j])
	})
	s.byConv[conversationID] = list
}

// Insert adds a message at its sorted position if its id is not already
// present. Returns false on a duplicate id. Out-of-order delivery is
// expected, so position is found by binary search rather than appending.
func (s *MessageStore) Insert(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(msg)
}

// AppendPending adds a locally created message awaiting confirmation.
func (s *MessageStore) AppendPending(conversationID string, msg model.Message) bool {
	msg.ConversationID = conversationID
	msg.Status = model.StatusPending
	return s.Insert(msg)
}

// Confirm locates the entry carrying the temporary pending id and replaces
// its id and fields in place, preserving its ordinal position. If the
// confirmed id already arrived through another path (push echo), the pending
// entry is dropped instead.
func (s *MessageStore) Confirm(pendingID string, confirmed model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.index[pendingID]
	if !ok {
		// Pending entry gone; fall back to a plain dedup insert.
		return s.insertLocked(confirmed)
	}

	if _, dup := s.index[confirmed.ID]; dup && confirmed.ID != pendingID {
		s.removeLocked(pendingID)
		return true
	}

	list := s.byConv[convID]
	for _, m := range list {
		if m.ID == pendingID {
			created := m.CreatedAt
			*m = confirmed
			m.ConversationID = convID
			m.Status = model.StatusConfirmed
			if m.CreatedAt.IsZero() {
				m.CreatedAt = created
			}
			delete(s.index, pendingID)
			s.index[m.ID] = convID
			return true
		}
	}
	return false
}

// ApplyUpdate patches a message and returns the prior copy for rollback.
func (s *MessageStore) ApplyUpdate(id string, patch model.MessagePatch) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return model.Message{}, false
	}
	prior := *msg

	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Type != nil {
		msg.Type = *patch.Type
	}
	if patch.Attachments != nil {
		msg.Attachments = patch.Attachments
	}
	return prior, true
}

// Replace overwrites a stored message wholesale, keyed by its id. Used to
// reconcile an optimistic edit with the server copy or to roll it back.
func (s *MessageStore) Replace(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.findLocked(msg.ID)
	if stored == nil {
		return false
	}
	*stored = msg
	return true
}

// SetStatus transitions a message's lifecycle status.
func (s *MessageStore) SetStatus(id string, status model.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return false
	}
	msg.Status = status
	return true
}

// ApplyDelete removes a message and returns the removed copy so callers can
// recompute the conversation's latest-message summary or roll back.
func (s *MessageStore) ApplyDelete(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return model.Message{}, false
	}
	removed := *msg
	s.removeLocked(id)
	return removed, true
}

// DropConversation discards all messages for a deleted conversation.
func (s *MessageStore) DropConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.byConv[conversationID] {
		delete(s.index, msg.ID)
	}
	delete(s.byConv, conversationID)
}

// Get returns a copy of the message with the given id.
func (s *MessageStore) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := s.findLocked(id)
	if msg == nil {
		return model.Message{}, false
	}
	return *msg, true
}

// List returns a conversation's messages ordered by CreatedAt ascending,
// ties broken by id.
func (s *MessageStore) List(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byConv[conversationID]
	out := make([]model.Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out
}

// Latest returns the most recent non-deleted message of a conversation.
func (s *MessageStore) Latest(conversationID string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byConv[conversationID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status != model.StatusDeleted {
			return *list[i], true
		}
	}
	return model.Message{}, false
}

// PendingCount reports messages still awaiting confirmation.
func (s *MessageStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, list := range s.byConv {
		for _, m := range list {
			if m.Status == model.StatusPending {
				count++
			}
		}
	}
	return count
}

func (s *MessageStore) insertLocked(msg model.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, exists := s.index[msg.ID]; exists {
		return false
	}
	m := msg
	if m.Status == "" {
		m.Status = model.StatusConfirmed
	}

	list := s.byConv[m.ConversationID]
	i := sort.Search(len(list), func(i int) bool {
		return !messageLess(list[i], &m)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &m
	s.byConv[m.ConversationID] = list
	s.index[m.ID] = m.ConversationID
	return true
}

func (s *MessageStore) findLocked(id string) *model.Message {
	convID, ok := s.index[id]
	if !ok {
		return nil
	}
	for _, m := range s.byConv[convID] {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *MessageStore) removeLocked(id string) {
	convID, ok := s.index[id]
	if !ok {
		return
	}
	list := s.byConv[convID]
	for i, m := range list {
		if m.ID == id {
			s.byConv[convID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(s.index, id)
}

func messageLess(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
