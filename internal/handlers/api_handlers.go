package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	logger   *slog.Logger
	guard    *AccessGuard
	payments ports.ReconciliationService
	orders   ports.OrderService
	health   HealthChecker
	validate *validator.Validate
}

func NewHTTPHandler(
	logger *slog.Logger,
	guard *AccessGuard,
	payments ports.ReconciliationService,
	orders ports.OrderService,
	health HealthChecker,
) *HTTPHandler {
	return &HTTPHandler{
		logger:   logger,
		guard:    guard,
		payments: payments,
		orders:   orders,
		health:   health,
		validate: newValidator(),
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.guard.Middleware)

	// Orders
	api.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	api.HandleFunc("/orders/mine", h.GetUserOrders).Methods("GET")

	// Payments
	api.HandleFunc("/payments/submit", h.SubmitPayment).Methods("POST")
	api.HandleFunc("/payments/history", h.GetPaymentHistory).Methods("GET")
	api.HandleFunc("/payments/stats", h.GetStatistics).Methods("GET")
	api.HandleFunc("/payments/order/{orderId}", h.GetOrderPayment).Methods("GET")
	api.HandleFunc("/payments/order/{orderId}/events", h.ListPaymentEvents).Methods("GET")
	api.HandleFunc("/payments/verify/{orderId}", h.VerifyPayment).Methods("POST")
	api.HandleFunc("/payments", h.ListPayments).Methods("GET")
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
		defer cancel()

		if err := h.health.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			respondFailure(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	respondOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller returns the identity set by AccessGuard; routes without it are misconfigured.
func (h *HTTPHandler) caller(w http.ResponseWriter, r *http.Request) (entities.Caller, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondFailure(w, http.StatusUnauthorized, "Missing token")
	}
	return caller, ok
}
