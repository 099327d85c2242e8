package devserver

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/channel"
	"github.com/harborchat/chatsync/pkg/logger"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket session of a user.
type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

type inbound struct {
	client *Client
	env    envelope
}

// Hub relays events between connected clients: room fan-out for message
// traffic, global fan-out for presence and conversation lifecycle. All
// state lives on the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
	logger     *logger.Logger

	clients map[*Client]bool
	// conversation id -> members
	rooms map[string]map[*Client]bool
	// user id -> live session count
	online map[string]int
}

// NewHub creates a hub. Run must be started before clients attach.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
		logger:     log,
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		online:     make(map[string]int),
	}
}

// Run processes hub traffic until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.online[client.UserID]++
			if h.online[client.UserID] == 1 {
				h.broadcast(channel.EventUserOnline, map[string]string{"userId": client.UserID}, client)
			}
			h.sendTo(client, channel.EventOnlineUsers, h.roster())

		case client := <-h.unregister:
			h.drop(client)

		case in := <-h.inbound:
			h.handle(in.client, in.env)

		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

func (h *Hub) handle(c *Client, env envelope) {
	switch env.Event {
	case channel.EventJoinChat:
		var convID string
		if err := json.Unmarshal(env.Data, &convID); err != nil || convID == "" {
			return
		}
		if h.rooms[convID] == nil {
			h.rooms[convID] = make(map[*Client]bool)
		}
		h.rooms[convID][c] = true

	case channel.EventLeaveChat:
		var convID string
		if err := json.Unmarshal(env.Data, &convID); err != nil || convID == "" {
			return
		}
		delete(h.rooms[convID], c)

	case channel.EventSendMessage:
		msg, err := channel.DecodeMessage(env.Data)
		if err != nil {
			h.logger.Debug("dropping malformed sendMessage", zap.Error(err))
			return
		}
		// Other parties get a receive event, the sender's other sessions
		// get the self echo.
		h.toRoom(msg.ConversationID, channel.EventReceiveMessage, env.Data, c.UserID)
		h.toUser(c.UserID, channel.EventMessageSent, env.Data, c)

	case channel.EventUpdateMessage:
		msg, err := channel.DecodeMessage(env.Data)
		if err != nil {
			h.logger.Debug("dropping malformed updateMessage", zap.Error(err))
			return
		}
		h.toRoom(msg.ConversationID, channel.EventMessageUpdated, env.Data, c.UserID)
		h.toUser(c.UserID, channel.EventMessageUpdated, env.Data, c)

	case channel.EventDeleteMessage:
		ev, err := channel.DecodeMessageDeleted(env.Data)
		if err != nil {
			h.logger.Debug("dropping malformed deleteMessage", zap.Error(err))
			return
		}
		h.toRoom(ev.ConversationID, channel.EventMessageDeleted, env.Data, c.UserID)
		h.toUser(c.UserID, channel.EventMessageDeleted, env.Data, c)

	case channel.EventTyping:
		ev, err := channel.DecodeTyping(env.Data)
		if err != nil {
			return
		}
		h.toRoom(ev.ConversationID, channel.EventUserTyping, env.Data, c.UserID)

	case channel.EventConversationCreate:
		h.broadcast(channel.EventConversationCreated, json.RawMessage(env.Data), c)

	case channel.EventConversationDelete:
		h.broadcast(channel.EventConversationDeleted, json.RawMessage(env.Data), c)

	case channel.EventUserConnected, channel.EventUserDisconnected:
		// Presence is derived from the connection itself.

	default:
		h.logger.Debug("dropping unknown event", zap.String("event", env.Event))
	}
}

// toRoom sends to every room member not belonging to the excluded user.
func (h *Hub) toRoom(convID, event string, data json.RawMessage, exceptUserID string) {
	for member := range h.rooms[convID] {
		if member.UserID == exceptUserID {
			continue
		}
		h.sendTo(member, event, data)
	}
}

// toUser sends to all sessions of one user except the originating client.
func (h *Hub) toUser(userID, event string, data json.RawMessage, except *Client) {
	for client := range h.clients {
		if client.UserID == userID && client != except {
			h.sendTo(client, event, data)
		}
	}
}

// broadcast sends to every client except the originating one.
func (h *Hub) broadcast(event string, payload any, except *Client) {
	for client := range h.clients {
		if client != except {
			h.sendTo(client, event, payload)
		}
	}
}

func (h *Hub) sendTo(c *Client, event string, payload any) {
	var data json.RawMessage
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return
		}
		data = raw
	}
	msg, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		// Slow consumer: drop the connection rather than block the hub.
		h.drop(c)
	}
}

// drop detaches a client from all hub state. Safe to call twice; later
// unregister deliveries for an already-dropped client are no-ops.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for _, members := range h.rooms {
		delete(members, c)
	}
	close(c.send)
	h.online[c.UserID]--
	if h.online[c.UserID] <= 0 {
		delete(h.online, c.UserID)
		h.broadcast(channel.EventUserOffline, map[string]string{"userId": c.UserID}, nil)
	}
}

func (h *Hub) roster() []string {
	users := make([]string, 0, len(h.online))
	for id := range h.online {
		users = append(users, id)
	}
	return users
}

// detach hands a client back to the hub, or returns immediately when the
// hub loop has already exited. Pumps outliving Run must not block here.
func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump feeds client frames into the hub until the connection dies.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if env.Event == "" {
			continue
		}
		select {
		case c.hub.inbound <- inbound{client: c, env: env}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump drains the send queue to the connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
