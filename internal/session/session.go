// Package session implements the synchronizer: it owns the push channel for
// the session lifetime, hydrates the stores over REST, and funnels every
// inbound event and local command through one reconciliation policy.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/channel"
	"github.com/harborchat/chatsync/internal/gateway"
	"github.com/harborchat/chatsync/internal/model"
	"github.com/harborchat/chatsync/internal/store"
	"github.com/harborchat/chatsync/internal/typing"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
	"github.com/harborchat/chatsync/pkg/logger"
	"github.com/harborchat/chatsync/pkg/metrics"
)

// ChangeKind names what part of the projection changed.
type ChangeKind string

const (
	ChangeConversations ChangeKind = "conversations"
	ChangeMessages      ChangeKind = "messages"
	ChangeTyping        ChangeKind = "typing"
	ChangePresence      ChangeKind = "presence"
	ChangeConnection    ChangeKind = "connection"
)

// Change is delivered to subscribers after a mutation is applied.
type Change struct {
	Kind           ChangeKind
	ConversationID string
}

// Config wires a session's collaborators.
type Config struct {
	Gateway   gateway.Gateway
	Channel   channel.Channel
	Self      model.User
	TypingTTL time.Duration

	// HydrateLimit caps how many messages a hydration keeps per
	// conversation, newest kept. Zero means unbounded.
	HydrateLimit int

	Logger *logger.Logger
}

// Session keeps the local projection of conversations and messages
// consistent across REST reads, push events and the user's own optimistic
// writes. All reconciliation runs under one mutex: push handlers and local
// commands never mutate the stores concurrently. REST calls happen outside
// the lock.
type Session struct {
	gw           gateway.Gateway
	ch           channel.Channel
	self         model.User
	hydrateLimit int
	logger       *logger.Logger

	conversations *store.ConversationStore
	messages      *store.MessageStore
	typing        *typing.Tracker

	mu         sync.Mutex
	active     string
	hydrateGen uint64
	online     map[string]bool
	hydrated   bool
	closed     bool

	subsMu sync.RWMutex
	subs   map[int]func(Change)
	nextID int

	offs []func()
}

// New creates a session. Start must be called before use.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Session{
		gw:            cfg.Gateway,
		ch:            cfg.Channel,
		self:          cfg.Self,
		hydrateLimit:  cfg.HydrateLimit,
		logger:        log.With(zap.String("user_id", cfg.Self.ID)),
		conversations: store.NewConversationStore(),
		messages:      store.NewMessageStore(),
		typing:        typing.NewTracker(cfg.TypingTTL),
		online:        make(map[string]bool),
		subs:          make(map[int]func(Change)),
	}
}

// Start connects the channel, registers all event handlers once for the
// session lifetime, announces presence, and hydrates the conversation list.
func (s *Session) Start(ctx context.Context) error {
	s.typing.OnChange(func(state model.TypingState) {
		s.notify(Change{Kind: ChangeTyping, ConversationID: state.ConversationID})
	})

	s.registerHandlers()

	s.offs = append(s.offs, s.ch.OnStatus(func(connected bool) {
		s.notify(Change{Kind: ChangeConnection})
		if !connected {
			return
		}
		s.mu.Lock()
		rehydrate := s.hydrated && !s.closed
		s.mu.Unlock()
		// Events during an outage are lost: re-hydrate over REST before
		// trusting further push events.
		if rehydrate {
			metrics.ChannelReconnects.Inc()
			go s.rehydrate()
		}
	}))

	if !s.ch.Connected() {
		if err := s.ch.Connect(ctx); err != nil {
			return err
		}
	}

	if err := s.ch.Emit(channel.EventUserConnected, s.self.ID); err != nil {
		s.logger.Warn("presence announce failed", zap.Error(err))
	}

	if err := s.hydrateConversations(ctx, "initial"); err != nil {
		return err
	}

	s.mu.Lock()
	s.hydrated = true
	s.mu.Unlock()
	return nil
}

// Stop announces departure, detaches all handlers, cancels typing timers
// and closes the channel. The session cannot be restarted.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.ch.Emit(channel.EventUserDisconnected, s.self.ID); err != nil {
		s.logger.Debug("departure announce failed", zap.Error(err))
	}
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
	s.typing.Stop()
	return s.ch.Close()
}

// Subscribe registers a listener fired after each applied mutation. The
// subscription lives until its off function is called; it is independent of
// any view lifecycle.
func (s *Session) Subscribe(fn func(Change)) (off func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Conversations returns the ordered conversation list.
func (s *Session) Conversations() []model.Conversation {
	return s.conversations.List()
}

// Messages returns the ordered messages of a conversation; an empty id means
// the active one.
func (s *Session) Messages(conversationID string) []model.Message {
	if conversationID == "" {
		s.mu.Lock()
		conversationID = s.active
		s.mu.Unlock()
	}
	return s.messages.List(conversationID)
}

// ActiveConversation returns the currently active conversation id.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// TypingUsers returns the users composing in the active conversation.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	id := s.active
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	return s.typing.Typing(id)
}

// OnlineUsers returns the known online roster, sorted.
func (s *Session) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.online))
	for id := range s.online {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// SetActiveConversation switches the active conversation: it leaves the old
// room, cancels the old scope's typing timers, joins the new room and
// hydrates its messages. A hydration that completes for a conversation no
// longer active is discarded (last request wins).
func (s *Session) SetActiveConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.active
	s.active = conversationID
	s.hydrateGen++
	gen := s.hydrateGen
	s.mu.Unlock()

	if prev != "" && prev != conversationID {
		s.typing.ClearConversation(prev)
		if err := s.ch.Emit(channel.EventLeaveChat, prev); err != nil {
			s.logger.Debug("leaveChat emit failed", zap.Error(err))
		}
	}
	if conversationID == "" {
		return nil
	}
	if err := s.ch.Emit(channel.EventJoinChat, conversationID); err != nil {
		s.logger.Debug("joinChat emit failed", zap.Error(err))
	}

	return s.hydrateMessages(ctx, conversationID, gen, "switch")
}

// SendMessage applies the message optimistically with a temporary id, then
// confirms it in place from the gateway response. On failure the entry stays
// visible as failed; there is no automatic retry.
func (s *Session) SendMessage(ctx context.Context, req model.SendMessageRequest) (model.Message, error) {
	if req.ConversationID == "" {
		req.ConversationID = s.ActiveConversation()
	}
	if req.ConversationID == "" {
		return model.Message{}, apperrors.Validation("no conversation selected", nil)
	}
	if req.Type == "" {
		req.Type = model.MessageTypeText
	}

	now := time.Now()
	pending := model.Message{
		ID:             "temp-" + uuid.Must(uuid.NewV7()).String(),
		ConversationID: req.ConversationID,
		Sender:         s.self,
		Content:        req.Content,
		Type:           req.Type,
		Attachments:    req.Attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         model.StatusPending,
	}

	s.mu.Lock()
	s.messages.AppendPending(req.ConversationID, pending)
	s.mu.Unlock()
	metrics.PendingMessages.Set(float64(s.messages.PendingCount()))
	s.notify(Change{Kind: ChangeMessages, ConversationID: req.ConversationID})

	return s.deliver(ctx, pending.ID, req)
}

// ResendMessage retries a failed send. This is the only failed -> pending
// transition.
func (s *Session) ResendMessage(ctx context.Context, messageID string) (model.Message, error) {
	s.mu.Lock()
	msg, ok := s.messages.Get(messageID)
	if !ok || msg.Status != model.StatusFailed {
		s.mu.Unlock()
		return model.Message{}, apperrors.Conflict("message is not in failed state")
	}
	s.messages.SetStatus(messageID, model.StatusPending)
	s.mu.Unlock()
	metrics.PendingMessages.Set(float64(s.messages.PendingCount()))
	s.notify(Change{Kind: ChangeMessages, ConversationID: msg.ConversationID})

	return s.deliver(ctx, messageID, model.SendMessageRequest{
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Type:           msg.Type,
		Attachments:    msg.Attachments,
	})
}

// deliver runs the gateway send for an already-pending entry and reconciles
// the outcome.
func (s *Session) deliver(ctx context.Context, pendingID string, req model.SendMessageRequest) (model.Message, error) {
	confirmed, err := s.gw.SendMessage(ctx, req)

	s.mu.Lock()
	if err != nil {
		s.messages.SetStatus(pendingID, model.StatusFailed)
		failed, _ := s.messages.Get(pendingID)
		s.mu.Unlock()

		metrics.PendingMessages.Set(float64(s.messages.PendingCount()))
		s.notify(Change{Kind: ChangeMessages, ConversationID: req.ConversationID})
		s.logger.Warn("message send failed", zap.String("message_id", pendingID), zap.Error(err))
		return failed, err
	}

	confirmed.Status = model.StatusConfirmed
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = req.ConversationID
	}
	s.messages.Confirm(pendingID, confirmed)
	s.conversations.Touch(confirmed.ConversationID, &confirmed, confirmed.CreatedAt, 0)
	s.mu.Unlock()

	metrics.PendingMessages.Set(float64(s.messages.PendingCount()))
	if err := s.ch.Emit(channel.EventSendMessage, channel.EncodeMessage(confirmed)); err != nil {
		s.logger.Debug("sendMessage emit failed", zap.Error(err))
	}
	s.notify(Change{Kind: ChangeMessages, ConversationID: confirmed.ConversationID})
	s.notify(Change{Kind: ChangeConversations})
	return confirmed, nil
}

// EditMessage applies a patch optimistically and reconciles with the server
// copy, rolling back on failure.
func (s *Session) EditMessage(ctx context.Context, messageID string, patch model.MessagePatch) (model.Message, error) {
	s.mu.Lock()
	prior, ok := s.messages.ApplyUpdate(messageID, patch)
	s.mu.Unlock()
	if !ok {
		return model.Message{}, apperrors.NotFound("message")
	}
	s.notify(Change{Kind: ChangeMessages, ConversationID: prior.ConversationID})

	if current, ok := s.messages.Get(messageID); ok {
		if err := s.ch.Emit(channel.EventUpdateMessage, channel.EncodeMessage(current)); err != nil {
			s.logger.Debug("updateMessage emit failed", zap.Error(err))
		}
	}

	updated, err := s.gw.UpdateMessage(ctx, messageID, patch)

	s.mu.Lock()
	if err != nil {
		s.messages.Replace(prior)
		s.refreshLatestLocked(prior.ConversationID)
		s.mu.Unlock()

		metrics.OptimisticRollbacks.WithLabelValues("edit").Inc()
		s.notify(Change{Kind: ChangeMessages, ConversationID: prior.ConversationID})
		s.notify(Change{Kind: ChangeConversations})
		return model.Message{}, err
	}

	updated.Status = model.StatusConfirmed
	if updated.ConversationID == "" {
		updated.ConversationID = prior.ConversationID
	}
	if updated.CreatedAt.IsZero() {
		updated.CreatedAt = prior.CreatedAt
	}
	s.messages.Replace(updated)
	s.refreshLatestLocked(updated.ConversationID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ConversationID: updated.ConversationID})
	s.notify(Change{Kind: ChangeConversations})
	return updated, nil
}

// DeleteMessage removes a message optimistically; on gateway failure the
// entry is restored at its sorted position.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	removed, ok := s.messages.ApplyDelete(messageID)
	if !ok {
		s.mu.Unlock()
		return apperrors.NotFound("message")
	}
	s.refreshLatestLocked(removed.ConversationID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ConversationID: removed.ConversationID})
	s.notify(Change{Kind: ChangeConversations})
	if err := s.ch.Emit(channel.EventDeleteMessage, channel.EncodeMessageDeleted(model.MessageDeletedEvent{
		MessageID:      messageID,
		ConversationID: removed.ConversationID,
	})); err != nil {
		s.logger.Debug("deleteMessage emit failed", zap.Error(err))
	}

	if err := s.gw.DeleteMessage(ctx, messageID); err != nil {
		s.mu.Lock()
		s.messages.Insert(removed)
		s.refreshLatestLocked(removed.ConversationID)
		s.mu.Unlock()

		metrics.OptimisticRollbacks.WithLabelValues("delete").Inc()
		s.notify(Change{Kind: ChangeMessages, ConversationID: removed.ConversationID})
		s.notify(Change{Kind: ChangeConversations})
		return err
	}
	return nil
}

// CreateConversation creates a conversation through the gateway and merges
// the result; the later conversation:created echo deduplicates by id.
func (s *Session) CreateConversation(ctx context.Context, req model.CreateConversationRequest) (model.Conversation, error) {
	conv, err := s.gw.CreateConversation(ctx, req)
	if err != nil {
		return model.Conversation{}, err
	}

	s.mu.Lock()
	s.conversations.Upsert(conv)
	s.mu.Unlock()

	if err := s.ch.Emit(channel.EventConversationCreate, channel.EncodeConversation(conv)); err != nil {
		s.logger.Debug("conversation:create emit failed", zap.Error(err))
	}
	s.notify(Change{Kind: ChangeConversations})
	return conv, nil
}

// DeleteConversation deletes through the gateway, then drops the local
// projection and announces the deletion.
func (s *Session) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.gw.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations.Remove(conversationID)
	s.messages.DropConversation(conversationID)
	if s.active == conversationID {
		s.active = ""
	}
	s.mu.Unlock()
	s.typing.ClearConversation(conversationID)

	if err := s.ch.Emit(channel.EventConversationDelete, conversationID); err != nil {
		s.logger.Debug("conversation:delete emit failed", zap.Error(err))
	}
	s.notify(Change{Kind: ChangeConversations})
	return nil
}

// MarkConversationRead resets a conversation's unread counter. Nothing else
// resets it.
func (s *Session) MarkConversationRead(conversationID string) {
	s.mu.Lock()
	s.conversations.MarkRead(conversationID)
	s.mu.Unlock()

	metrics.UnreadTotal.Set(float64(s.conversations.TotalUnread()))
	s.notify(Change{Kind: ChangeConversations})
}

// SetTyping announces the local user's composing state for the active
// conversation. Best effort: failures are ignored.
func (s *Session) SetTyping(isTyping bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == "" {
		return
	}
	_ = s.ch.Emit(channel.EventTyping, channel.EncodeTyping(model.TypingEvent{
		ConversationID: active,
		UserID:         s.self.ID,
		IsTyping:       isTyping,
	}))
}

// hydrateConversations pulls the conversation list and merges it in. On
// failure existing state stays untouched: stale but consistent.
func (s *Session) hydrateConversations(ctx context.Context, trigger string) error {
	start := time.Now()
	convs, err := s.gw.ListConversations(ctx)
	if err != nil {
		metrics.RecordHydration(trigger, "error", time.Since(start).Seconds())
		s.logger.Warn("conversation hydration failed", zap.String("trigger", trigger), zap.Error(err))
		return err
	}
	metrics.RecordHydration(trigger, "ok", time.Since(start).Seconds())

	s.mu.Lock()
	for _, conv := range convs {
		s.conversations.Upsert(conv)
	}
	s.mu.Unlock()

	metrics.UnreadTotal.Set(float64(s.conversations.TotalUnread()))
	s.notify(Change{Kind: ChangeConversations})
	return nil
}

// hydrateMessages pulls a conversation's messages; stale results for a
// superseded switch are discarded.
func (s *Session) hydrateMessages(ctx context.Context, conversationID string, gen uint64, trigger string) error {
	start := time.Now()
	msgs, err := s.gw.ListMessages(ctx, conversationID)
	if err != nil {
		metrics.RecordHydration(trigger, "error", time.Since(start).Seconds())
		s.logger.Warn("message hydration failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}
	metrics.RecordHydration(trigger, "ok", time.Since(start).Seconds())

	if s.hydrateLimit > 0 && len(msgs) > s.hydrateLimit {
		sort.Slice(msgs, func(i, j int) bool {
			if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
				return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
			}
			return msgs[i].ID < msgs[j].ID
		})
		msgs = msgs[len(msgs)-s.hydrateLimit:]
	}

	s.mu.Lock()
	if s.active != conversationID || gen != s.hydrateGen {
		s.mu.Unlock()
		return nil
	}
	s.messages.ReplaceAll(conversationID, msgs)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ConversationID: conversationID})
	return nil
}

// rehydrate refreshes everything after a reconnect.
func (s *Session) rehydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.hydrateConversations(ctx, "reconnect"); err != nil {
		return
	}

	s.mu.Lock()
	active := s.active
	gen := s.hydrateGen
	s.mu.Unlock()
	if active != "" {
		_ = s.hydrateMessages(ctx, active, gen, "reconnect")
	}
}

// refreshLatestLocked recomputes a conversation's latest-message summary
// from the tail of the remaining ordered list. Callers hold s.mu.
func (s *Session) refreshLatestLocked(conversationID string) {
	latest, ok := s.messages.Latest(conversationID)
	if ok {
		s.conversations.SetLatestMessage(conversationID, &latest)
	} else {
		s.conversations.SetLatestMessage(conversationID, nil)
	}
}

func (s *Session) notify(c Change) {
	s.subsMu.RLock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}
