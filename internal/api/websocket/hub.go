// Package websocket streams accepted events to live dashboard viewers. The
// ingestor publishes every persisted event to the hub, which fans it out to
// connected clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
)

// Hub maintains active WebSocket connections and broadcasts event messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub bound to ctx; cancelling ctx stops the run loop.
func NewHub(ctx context.Context, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run processes register, unregister and broadcast messages until the hub
// context is cancelled. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client buffer full, drop the connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Stop cancels the run loop and closes all client connections.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnectionsActive.Set(0)
}

// eventMessage is the wire shape broadcast per accepted event.
type eventMessage struct {
	Type  string        `json:"type"`
	Event *models.Event `json:"event"`
}

// Publish broadcasts one accepted event to every connected client. It
// implements the ingestor's Publisher and never blocks: if the broadcast
// buffer is full the message is dropped.
func (h *Hub) Publish(e *models.Event) {
	msg, err := json.Marshal(eventMessage{Type: "event", Event: e})
	if err != nil {
		h.logger.Warn("event broadcast marshal failed", "event_id", e.ID, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("event broadcast buffer full, dropping", "event_id", e.ID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
