package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sand/storefront-payments/backend/internal/entities"
)

const writeWait = 5 * time.Second

// Hub pushes payment events to connected admin dashboards.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[*websocket.Conn]string // conn -> admin id
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*websocket.Conn]string),
	}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Add(conn *websocket.Conn, adminID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[conn] = adminID
}

func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[conn]; ok {
		delete(h.subscribers, conn)
		_ = conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Deliver writes n to every subscriber and drops the ones that fail.
func (h *Hub) Deliver(_ context.Context, n entities.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, adminID := range h.subscribers {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(n); err != nil {
			h.logger.Warn("Dropping websocket subscriber", "admin_id", adminID, "error", err)
			delete(h.subscribers, conn)
			_ = conn.Close()
		}
	}

	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subscribers {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(h.subscribers, conn)
	}
}
