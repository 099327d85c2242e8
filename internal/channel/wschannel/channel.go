// Package wschannel implements the push channel over a websocket connection
// speaking {"event": ..., "data": ...} envelopes.
package wschannel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/channel"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
	"github.com/harborchat/chatsync/pkg/logger"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Options configures a websocket channel.
type Options struct {
	URL           string
	Token         string
	ReconnectWait time.Duration
	Logger        *logger.Logger
}

// Channel is a websocket-backed push channel. It owns one connection for its
// lifetime and redials on read failure until Close is called, reporting
// transitions through OnStatus. Events lost while disconnected are gone; the
// synchronizer re-hydrates over REST on each reconnect.
type Channel struct {
	opts   Options
	logger *logger.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]map[int]channel.Handler
	statusSubs map[int]func(bool)
	nextID     int

	done chan struct{}
}

// New creates a websocket channel. Connect must be called before use.
func New(opts Options) *Channel {
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Channel{
		opts:       opts,
		logger:     log,
		handlers:   make(map[string]map[int]channel.Handler),
		statusSubs: make(map[int]func(bool)),
		done:       make(chan struct{}),
	}
}

// Connect dials the websocket endpoint and starts the read loop.
func (c *Channel) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return apperrors.Transport("websocket dial failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.notifyStatus(true)
	go c.readLoop()
	return nil
}

// Close tears down the connection and stops reconnecting.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// Connected reports the current transport state.
func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Emit sends a named event wrapped in an envelope.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return apperrors.Transport("channel not connected", nil)
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Validation("failed to encode event payload", err)
		}
		data = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		return apperrors.Transport("websocket write failed", err)
	}
	return nil
}

// On subscribes a handler to a named event.
func (c *Channel) On(event string, h channel.Handler) (off func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]channel.Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = h

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnStatus subscribes to connect/disconnect transitions.
func (c *Channel) OnStatus(fn func(connected bool)) (off func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	id := c.nextID
	c.nextID++
	c.statusSubs[id] = fn

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		delete(c.statusSubs, id)
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// readLoop reads envelopes and dispatches them sequentially. Running the
// handlers on this single goroutine is what serializes event handling for
// the whole session.
func (c *Channel) readLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.connected = false
			closed := c.closed
			c.mu.Unlock()

			if closed {
				return
			}
			c.logger.Warn("websocket read failed, reconnecting", zap.Error(err))
			c.notifyStatus(false)
			if !c.reconnect() {
				return
			}
			continue
		}

		if env.Event == "" {
			c.logger.Debug("dropping envelope without event name")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Channel) reconnect() bool {
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(c.opts.ReconnectWait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("websocket redial failed", zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		c.notifyStatus(true)
		return true
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.handlersMu.RLock()
	hs := make([]channel.Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}

func (c *Channel) notifyStatus(connected bool) {
	c.handlersMu.RLock()
	subs := make([]func(bool), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		subs = append(subs, fn)
	}
	c.handlersMu.RUnlock()

	for _, fn := range subs {
		fn(connected)
	}
}
