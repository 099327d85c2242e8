package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/chatsync/internal/model"
)

func msg(id, convID string, at time.Time) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         model.User{ID: "u1"},
		Content:        "msg " + id,
		Type:           model.MessageTypeText,
		CreatedAt:      at,
	}
}

func TestInsertOrdersByCreatedAt(t *testing.T) {
	s := NewMessageStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Arbitrary arrival order.
	require.True(t, s.Insert(msg("c", "conv", base.Add(3*time.Second))))
	require.True(t, s.Insert(msg("a", "conv", base.Add(1*time.Second))))
	require.True(t, s.Insert(msg("b", "conv", base.Add(2*time.Second))))

	assert.Equal(t, []string{"a", "b", "c"}, messageIDs(s, "conv"))
}

func TestInsertDuplicateIsNoOp(t *testing.T) {
	s := NewMessageStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m := msg("a", "conv", at)
	require.True(t, s.Insert(m))
	m.Content = "changed"
	assert.False(t, s.Insert(m))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "msg a", got.Content)
	assert.Len(t, s.List("conv"), 1)
}

func TestInsertTieBreakByID(t *testing.T) {
	s := NewMessageStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Insert(msg("b", "conv", at))
	s.Insert(msg("a", "conv", at))

	assert.Equal(t, []string{"a", "b"}, messageIDs(s, "conv"))
}

func TestReplaceAllDedupesAndSorts(t *testing.T) {
	s := NewMessageStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Insert(msg("stale", "conv", base))

	s.ReplaceAll("conv", []model.Message{
		msg("b", "conv", base.Add(2*time.Second)),
		msg("a", "conv", base.Add(1*time.Second)),
		msg("b", "conv", base.Add(2*time.Second)),
	})

	assert.Equal(t, []string{"a", "b"}, messageIDs(s, "conv"))
	_, ok := s.Get("stale")
	assert.False(t, ok)
	got, _ := s.Get("a")
	assert.Equal(t, model.StatusConfirmed, got.Status)
}

func TestConfirmPreservesPosition(t *testing.T) {
	s := NewMessageStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Insert(msg("a", "conv", base))
	require.True(t, s.AppendPending("conv", msg("temp-1", "conv", base.Add(time.Second))))

	confirmed := msg("b", "conv", base.Add(time.Second))
	require.True(t, s.Confirm("temp-1", confirmed))

	assert.Equal(t, []string{"a", "b"}, messageIDs(s, "conv"))
	got, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	_, ok = s.Get("temp-1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.PendingCount())
}

func TestConfirmAfterPushEchoDropsPending(t *testing.T) {
	s := NewMessageStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.AppendPending("conv", msg("temp-1", "conv", base))
	// The confirmed message already arrived over the push channel.
	s.Insert(msg("real", "conv", base))

	require.True(t, s.Confirm("temp-1", msg("real", "conv", base)))
	assert.Equal(t, []string{"real"}, messageIDs(s, "conv"))
}

func TestConfirmMissingPendingFallsBackToInsert(t *testing.T) {
	s := NewMessageStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, s.Confirm("temp-gone", msg("real", "conv", base)))
	assert.Equal(t, []string{"real"}, messageIDs(s, "conv"))
}

func TestApplyUpdateReturnsPriorForRollback(t *testing.T) {
	s := NewMessageStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Insert(msg("a", "conv", at))

	content := "edited"
	prior, ok := s.ApplyUpdate("a", model.MessagePatch{Content: &content})
	require.True(t, ok)
	assert.Equal(t, "msg a", prior.Content)

	got, _ := s.Get("a")
	assert.Equal(t, "edited", got.Content)

	// Roll back.
	require.True(t, s.Replace(prior))
	got, _ = s.Get("a")
	assert.Equal(t, "msg a", got.Content)
}

func TestApplyDeleteAndLatest(t *testing.T) {
	s := NewMessageStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Insert(msg("a", "conv", base))
	s.Insert(msg("b", "conv", base.Add(time.Second)))

	removed, ok := s.ApplyDelete("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)

	latest, ok := s.Latest("conv")
	require.True(t, ok)
	assert.Equal(t, "a", latest.ID)

	_, ok = s.ApplyDelete("b")
	assert.False(t, ok)
}

func TestLatestEmptyConversation(t *testing.T) {
	s := NewMessageStore()
	_, ok := s.Latest("conv")
	assert.False(t, ok)
}

func TestDropConversation(t *testing.T) {
	s := NewMessageStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Insert(msg("a", "conv", at))
	s.Insert(msg("b", "other", at))

	s.DropConversation("conv")

	assert.Empty(t, s.List("conv"))
	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Len(t, s.List("other"), 1)
}

func TestSetStatusLifecycle(t *testing.T) {
	s := NewMessageStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.AppendPending("conv", msg("temp-1", "conv", at))

	require.True(t, s.SetStatus("temp-1", model.StatusFailed))
	got, _ := s.Get("temp-1")
	assert.Equal(t, model.StatusFailed, got.Status)

	require.True(t, s.SetStatus("temp-1", model.StatusPending))
	assert.Equal(t, 1, s.PendingCount())

	assert.False(t, s.SetStatus("missing", model.StatusFailed))
}

func messageIDs(s *MessageStore, convID string) []string {
	list := s.List(convID)
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	return ids
}
