package devserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/chatsync/internal/model"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
)

var (
	alice = model.User{ID: "alice", FirstName: "Alice"}
	bob   = model.User{ID: "bob", FirstName: "Bob"}
	carol = model.User{ID: "carol", FirstName: "Carol"}
)

func TestCreateConversationDeduplicatesPair(t *testing.T) {
	s := NewStore()

	first, err := s.CreateConversation(alice, model.CreateConversationRequest{ParticipantID: "bob"})
	require.NoError(t, err)

	// The same unnamed pair resolves to the existing conversation,
	// regardless of which side asks.
	second, err := s.CreateConversation(bob, model.CreateConversationRequest{ParticipantID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = s.CreateConversation(alice, model.CreateConversationRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestListConversationsScopedToParticipant(t *testing.T) {
	s := NewStore()
	ab, err := s.CreateConversation(alice, model.CreateConversationRequest{ParticipantID: "bob"})
	require.NoError(t, err)
	_, err = s.CreateConversation(bob, model.CreateConversationRequest{ParticipantID: "carol"})
	require.NoError(t, err)

	forAlice := s.ListConversations("alice")
	require.Len(t, forAlice, 1)
	assert.Equal(t, ab.ID, forAlice[0].ID)

	assert.Len(t, s.ListConversations("bob"), 2)
	assert.Empty(t, s.ListConversations("stranger"))
}

func TestCreateMessageUpdatesSummary(t *testing.T) {
	s := NewStore()
	conv, err := s.CreateConversation(alice, model.CreateConversationRequest{ParticipantID: "bob"})
	require.NoError(t, err)

	msg, err := s.CreateMessage(alice, model.SendMessageRequest{ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeText, msg.Type)
	assert.Equal(t, model.StatusConfirmed, msg.Status)

	list := s.ListConversations("alice")
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LatestMessage)
	assert.Equal(t, msg.ID, list[0].LatestMessage.ID)

	// Outsiders cannot post.
	_, err = s.CreateMessage(carol, model.SendMessageRequest{ConversationID: conv.ID, Content: "intrude"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	_, err = s.CreateMessage(alice, model.SendMessageRequest{ConversationID: conv.ID})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestUpdateMessageAuthorOnly(t *testing.T) {
	s := NewStore()
	conv, _ := s.CreateConversation(alice, model.CreateConversationRequest{ParticipantID: "bob"})
	msg, err := s.CreateMessage(alice, model.SendMessageRequest{ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)

	content := "edited"
	updated, err := s.UpdateMessage("alice", msg.ID, model.MessagePatch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)

	// The summary follows an edit of the latest message.
	list := s.ListConversations("alice")
	require.NotNil(t, list[0].LatestMessage)
	assert.Equal(t, "edited", list[0].LatestMessage.Content)

	_, err = s.UpdateMessage("bob", msg.ID, model.MessagePatch{Content: &content})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))
}

func TestDeleteMessageRecomputesSummary(t *testing.T) {
	s := NewStore()
	conv, _ := s.CreateConversation(alice, model.CreateConversationRequest{ParticipantID: "bob"})
	m1, err := s.CreateMessage(alice, model.SendMessageRequest{ConversationID: conv.ID, Content: "first"})
	require.NoError(t, err)
	m2, err := s.CreateMessage(alice, model.SendMessageRequest{ConversationID: conv.ID, Content: "second"})
	require.NoError(t, err)

	_, err = s.DeleteMessage("bob", m2.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))

	removed, err := s.DeleteMessage("alice", m2.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, removed.ID)

	list := s.ListConversations("alice")
	require.NotNil(t, list[0].LatestMessage)
	assert.Equal(t, m1.ID, list[0].LatestMessage.ID)

	_, err = s.DeleteMessage("alice", m1.ID)
	require.NoError(t, err)
	assert.Nil(t, s.ListConversations("alice")[0].LatestMessage)
}

func TestDeleteConversationDropsMessages(t *testing.T) {
	s := NewStore()
	conv, _ := s.CreateConversation(alice, model.CreateConversationRequest{ParticipantID: "bob"})
	msg, err := s.CreateMessage(alice, model.SendMessageRequest{ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)

	require.Error(t, s.DeleteConversation("carol", conv.ID))
	require.NoError(t, s.DeleteConversation("alice", conv.ID))

	assert.Empty(t, s.ListConversations("alice"))
	_, err = s.ListMessages("alice", conv.ID)
	require.Error(t, err)
	_, err = s.UpdateMessage("alice", msg.ID, model.MessagePatch{})
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}
