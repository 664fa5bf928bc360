package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(context.Background(), discardLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestRegisterAndUnregisterAdjustClientCount(t *testing.T) {
	hub := newTestHub(t)
	assert.Equal(t, 0, hub.ClientCount())

	client := &Client{send: make(chan []byte, 16), hub: hub}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-client.send
	assert.False(t, open, "send channel should be closed on unregister")
}

func TestPublishBroadcastsToEveryClient(t *testing.T) {
	hub := newTestHub(t)

	a := &Client{send: make(chan []byte, 16), hub: hub}
	b := &Client{send: make(chan []byte, 16), hub: hub}
	hub.register <- a
	hub.register <- b
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(&models.Event{ID: "ev-1", EventType: "page_view"})

	for _, c := range []*Client{a, b} {
		select {
		case raw := <-c.send:
			var msg eventMessage
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, "event", msg.Type)
			assert.Equal(t, "ev-1", msg.Event.ID)
		case <-time.After(time.Second):
			t.Fatal("client did not receive the broadcast")
		}
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	hub := newTestHub(t)

	healthy := &Client{send: make(chan []byte, 16), hub: hub}
	slow := &Client{send: make(chan []byte), hub: hub} // nobody draining
	hub.register <- healthy
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(&models.Event{ID: "ev-2", EventType: "page_view"})

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-healthy.send:
	case <-time.After(time.Second):
		t.Fatal("healthy client did not receive the broadcast")
	}
	_, open := <-slow.send
	assert.False(t, open, "slow client's send channel should be closed")
}

func TestStopDisconnectsAllClients(t *testing.T) {
	hub := NewHub(context.Background(), discardLogger())
	go hub.Run()

	for i := 0; i < 3; i++ {
		hub.register <- &Client{send: make(chan []byte, 16), hub: hub}
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestReadPumpReturnsAfterHubStop(t *testing.T) {
	hub := NewHub(context.Background(), discardLogger())
	go hub.Run()

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(context.Background(), hub, conn, "test-client", discardLogger())
		hub.register <- c
		go func() {
			c.ReadPump()
			close(done)
		}()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// the run loop is gone; closing the connection must still let the read
	// pump finish instead of blocking on unregister
	hub.Stop()
	require.NoError(t, conn.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump did not return after hub stop")
	}
}
