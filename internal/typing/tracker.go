// Package typing tracks ephemeral per-user composing state with auto-expiry.
package typing

import (
	"sync"
	"time"

	"github.com/harborchat/chatsync/internal/model"
	"github.com/harborchat/chatsync/pkg/metrics"
)

// DefaultTTL is how long a typing signal stays live without a refresh.
const DefaultTTL = 1500 * time.Millisecond

type key struct {
	conversationID string
	userID         string
}

// Tracker holds typing state scoped to conversations. A typing=true signal
// (re)arms a timer; without a refresh the state flips back to false on its
// own. Nothing here is persisted.
type Tracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	timers   map[key]*time.Timer
	states   map[key]model.TypingState
	onChange func(model.TypingState)
}

// NewTracker creates a tracker with the given expiry window. A non-positive
// ttl falls back to DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:    ttl,
		timers: make(map[key]*time.Timer),
		states: make(map[key]model.TypingState),
	}
}

// OnChange registers a callback fired after every state transition,
// including timer expirations. Must be set before concurrent use.
func (t *Tracker) OnChange(fn func(model.TypingState)) {
	t.onChange = fn
}

// Set records composing state for a user in a conversation. True (re)starts
// the expiry timer; false clears immediately and cancels any pending timer.
func (t *Tracker) Set(userID, conversationID string, isTyping bool) {
	k := key{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	if timer, ok := t.timers[k]; ok {
		timer.Stop()
		delete(t.timers, k)
	}

	if !isTyping {
		_, had := t.states[k]
		delete(t.states, k)
		t.mu.Unlock()
		if had {
			t.notify(model.TypingState{
				UserID:         userID,
				ConversationID: conversationID,
				IsTyping:       false,
			})
		}
		return
	}

	state := model.TypingState{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       true,
		ExpiresAt:      time.Now().Add(t.ttl),
	}
	t.states[k] = state
	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() {
		t.expire(k, timer)
	})
	t.timers[k] = timer
	t.mu.Unlock()

	t.notify(state)
}

// Typing returns the ids of users currently composing in a conversation.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for k := range t.states {
		if k.conversationID == conversationID {
			users = append(users, k.userID)
		}
	}
	return users
}

// ClearConversation cancels all outstanding timers and state for a
// conversation's scope. Called when the active conversation switches.
func (t *Tracker) ClearConversation(conversationID string) {
	t.mu.Lock()
	for k, timer := range t.timers {
		if k.conversationID == conversationID {
			timer.Stop()
			delete(t.timers, k)
		}
	}
	for k := range t.states {
		if k.conversationID == conversationID {
			delete(t.states, k)
		}
	}
	t.mu.Unlock()
}

// Stop cancels every outstanding timer. Called at session end.
func (t *Tracker) Stop() {
	t.mu.Lock()
	for k, timer := range t.timers {
		timer.Stop()
		delete(t.timers, k)
	}
	for k := range t.states {
		delete(t.states, k)
	}
	t.mu.Unlock()
}

func (t *Tracker) expire(k key, fired *time.Timer) {
	t.mu.Lock()
	// A callback that lost the Stop race in Set may run after a refresh
	// replaced its timer; only the currently registered timer may clear.
	if t.timers[k] != fired {
		t.mu.Unlock()
		return
	}
	if _, ok := t.states[k]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.states, k)
	delete(t.timers, k)
	t.mu.Unlock()

	metrics.TypingExpirations.Inc()
	t.notify(model.TypingState{
		UserID:         k.userID,
		ConversationID: k.conversationID,
		IsTyping:       false,
	})
}

func (t *Tracker) notify(state model.TypingState) {
	if t.onChange != nil {
		t.onChange(state)
	}
}
