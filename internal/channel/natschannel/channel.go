// Package natschannel implements the push channel over NATS core subjects,
// for deployments where the chat backend fans events out through a NATS
// backbone instead of a websocket endpoint.
package natschannel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/channel"
	apperrors "github.com/harborchat/chatsync/pkg/errors"
	"github.com/harborchat/chatsync/pkg/logger"
)

// DefaultSubjectPrefix is the subject namespace carrying chat events.
const DefaultSubjectPrefix = "chat.evt"

// Options holds NATS connection configuration.
type Options struct {
	URL      string
	Token    string
	CAFile   string
	CertFile string
	KeyFile  string

	// SubjectPrefix scopes the event namespace, typically per user:
	// "chat.evt.<userID>". Defaults to DefaultSubjectPrefix.
	SubjectPrefix string

	Logger *logger.Logger
}

// Channel is a NATS-backed push channel. Named events map to subjects under
// the configured prefix; one wildcard subscription receives everything, so
// delivery order within the connection is preserved and handlers run
// serialized on the subscription goroutine.
type Channel struct {
	opts   Options
	logger *logger.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	sub  *nats.Subscription

	handlersMu sync.RWMutex
	handlers   map[string]map[int]channel.Handler
	statusSubs map[int]func(bool)
	nextID     int
}

// New creates a NATS channel. Connect must be called before use.
func New(opts Options) *Channel {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
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
	}
}

// Connect establishes the NATS connection and the wildcard subscription.
func (c *Channel) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", zap.Error(err))
			c.notifyStatus(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected")
			c.notifyStatus(true)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			c.logger.Error("NATS subscription error", zap.Error(err))
		}),
	}

	if c.opts.CAFile != "" && c.opts.CertFile != "" && c.opts.KeyFile != "" {
		tlsConfig, err := createTLSConfig(c.opts.CAFile, c.opts.CertFile, c.opts.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if c.opts.Token != "" {
		opts = append(opts, nats.Token(c.opts.Token))
	}

	nc, err := nats.Connect(c.opts.URL, opts...)
	if err != nil {
		return apperrors.Transport("failed to connect to NATS", err)
	}

	prefix := c.opts.SubjectPrefix + "."
	sub, err := nc.Subscribe(prefix+">", func(m *nats.Msg) {
		event := strings.TrimPrefix(m.Subject, prefix)
		if event == "" || event == m.Subject {
			return
		}
		c.dispatch(event, m.Data)
	})
	if err != nil {
		nc.Close()
		return apperrors.Transport("failed to subscribe to event subjects", err)
	}

	c.mu.Lock()
	c.conn = nc
	c.sub = sub
	c.mu.Unlock()

	c.notifyStatus(true)
	return nil
}

// Close drains and closes the connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Connected reports the current transport state.
func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Emit publishes a named event under the subject prefix.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.RLock()
	nc := c.conn
	c.mu.RUnlock()

	if nc == nil || !nc.IsConnected() {
		return apperrors.Transport("channel not connected", nil)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Validation("failed to encode event payload", err)
	}
	if err := nc.Publish(c.opts.SubjectPrefix+"."+event, data); err != nil {
		return apperrors.Transport("failed to publish event", err)
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

func (c *Channel) dispatch(event string, data []byte) {
	c.handlersMu.RLock()
	hs := make([]channel.Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range hs {
		h(json.RawMessage(data))
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

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
