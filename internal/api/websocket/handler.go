package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the router level
	},
}

// Handler upgrades HTTP requests on /ws/events into hub clients.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
	ctx    context.Context
}

// NewHandler creates a websocket handler bound to the hub.
func NewHandler(ctx context.Context, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, logger: logger, ctx: ctx}
}

// ServeWS handles websocket upgrade requests.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(h.ctx, h.hub, conn, clientID, h.logger)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("websocket client connected", "client_id", clientID)
}
