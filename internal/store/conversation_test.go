package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/chatsync/internal/model"
)

func conv(id string, updatedAt time.Time) model.Conversation {
	return model.Conversation{
		ID:        id,
		Name:      "conv-" + id,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestConversationStoreOrdering(t *testing.T) {
	s := NewConversationStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Upsert(conv("a", base.Add(1*time.Minute)))
	s.Upsert(conv("b", base.Add(3*time.Minute)))
	s.Upsert(conv("c", base.Add(2*time.Minute)))

	ids := listIDs(s)
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestConversationStoreTieBreakByID(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Upsert(conv("z", at))
	s.Upsert(conv("a", at))
	s.Upsert(conv("m", at))

	assert.Equal(t, []string{"a", "m", "z"}, listIDs(s))
}

func TestTouchMovesToHeadAndLeavesOthers(t *testing.T) {
	s := NewConversationStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Upsert(conv("a", base.Add(3*time.Minute)))
	s.Upsert(conv("b", base.Add(2*time.Minute)))
	s.Upsert(conv("c", base.Add(1*time.Minute)))
	require.Equal(t, []string{"a", "b", "c"}, listIDs(s))

	ok := s.Touch("c", nil, base.Add(10*time.Minute), 0)
	require.True(t, ok)

	assert.Equal(t, []string{"c", "a", "b"}, listIDs(s))
}

func TestTouchStaleTimestampKeepsOrder(t *testing.T) {
	s := NewConversationStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Upsert(conv("a", base.Add(2*time.Minute)))
	s.Upsert(conv("b", base.Add(1*time.Minute)))

	s.Touch("b", nil, base, 0)

	assert.Equal(t, []string{"a", "b"}, listIDs(s))
}

func TestTouchUnknownConversation(t *testing.T) {
	s := NewConversationStore()
	assert.False(t, s.Touch("nope", nil, time.Now(), 1))
}

func TestUnreadAccumulateAndMarkRead(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Upsert(conv("a", at))

	for i := 0; i < 5; i++ {
		s.Touch("a", nil, at.Add(time.Duration(i)*time.Second), 1)
	}
	c, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5, c.UnreadCount)
	assert.Equal(t, 5, s.TotalUnread())

	require.True(t, s.MarkRead("a"))
	c, _ = s.Get("a")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestUnreadClampsAtZero(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Upsert(conv("a", at))

	s.Touch("a", nil, at, -3)

	c, _ := s.Get("a")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestUpsertMergePreservesUnread(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Upsert(conv("a", at))
	s.Touch("a", nil, at, 2)

	// Hydration delivers the same conversation again with fresher fields.
	refreshed := conv("a", at.Add(time.Minute))
	refreshed.Name = "renamed"
	s.Upsert(refreshed)

	c, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "renamed", c.Name)
	assert.Equal(t, at.Add(time.Minute), c.UpdatedAt)
}

func TestUpsertIgnoresEmptyID(t *testing.T) {
	s := NewConversationStore()
	s.Upsert(model.Conversation{})
	assert.Empty(t, s.List())
}

func TestUpsertMergeKeepsLatestMessageWhenAbsent(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := conv("a", at)
	c.LatestMessage = &model.Message{ID: "m1", Content: "hi"}
	s.Upsert(c)

	// Push event payloads often omit the summary.
	s.Upsert(conv("a", at))

	got, _ := s.Get("a")
	require.NotNil(t, got.LatestMessage)
	assert.Equal(t, "m1", got.LatestMessage.ID)
}

func TestRemove(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Upsert(conv("a", at))
	s.Upsert(conv("b", at.Add(time.Minute)))

	s.Remove("b")
	s.Remove("missing")

	assert.Equal(t, []string{"a"}, listIDs(s))
	_, ok := s.Get("b")
	assert.False(t, ok)
}

func TestSetLatestMessageClearsWithNil(t *testing.T) {
	s := NewConversationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := conv("a", at)
	c.LatestMessage = &model.Message{ID: "m1"}
	s.Upsert(c)

	require.True(t, s.SetLatestMessage("a", nil))
	got, _ := s.Get("a")
	assert.Nil(t, got.LatestMessage)
	assert.False(t, s.SetLatestMessage("missing", nil))
}

func listIDs(s *ConversationStore) []string {
	list := s.List()
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids
}
