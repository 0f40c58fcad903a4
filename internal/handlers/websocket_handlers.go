package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sand/storefront-payments/backend/internal/notify"
)

type WebSocketHandler struct {
	logger   *slog.Logger
	guard    *AccessGuard
	hub      *notify.Hub
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(logger *slog.Logger, guard *AccessGuard, hub *notify.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		logger: logger,
		guard:  guard,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.Handle("/ws/payments", h.guard.Middleware(http.HandlerFunc(h.HandleConnection)))
}

// HandleConnection subscribes an admin to the live payment event feed.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok || !caller.IsAdmin() {
		respondFailure(w, http.StatusForbidden, "Only administrators can follow the payment feed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New WebSocket connection", "admin_id", caller.ID)
	h.hub.Add(conn, caller.ID)

	// The feed is push-only; reading just detects disconnects.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.logger.Debug("WebSocket connection closed", "admin_id", caller.ID, "error", readErr)
			h.hub.Remove(conn)
			return
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
