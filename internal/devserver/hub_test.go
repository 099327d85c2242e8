package devserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harborchat/chatsync/pkg/logger"
)

func TestHubShutdownReleasesPumps(t *testing.T) {
	h := NewHub(logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := &Client{UserID: "u1", send: make(chan []byte, 64), hub: h}
	h.register <- c

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub loop did not stop on context cancellation")
	}

	// A pump winding down after shutdown must not block handing its
	// client back.
	detached := make(chan struct{})
	go func() {
		h.detach(c)
		close(detached)
	}()
	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach blocked after hub shutdown")
	}
}

func TestHubDropPrunesRoomsAndPresence(t *testing.T) {
	h := NewHub(logger.NewNop())

	c := &Client{UserID: "u1", send: make(chan []byte, 1), hub: h}
	h.clients[c] = true
	h.online["u1"] = 1
	h.rooms["conv"] = map[*Client]bool{c: true}

	h.drop(c)

	require.NotContains(t, h.clients, c)
	require.NotContains(t, h.rooms["conv"], c)
	require.NotContains(t, h.online, "u1")

	// Dropping again is a no-op; the send channel is not closed twice.
	h.drop(c)
}
