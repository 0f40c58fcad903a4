package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
)

type createOrderRequest struct {
	TotalAmount   *decimal.Decimal `json:"totalAmount"   validate:"required"`
	PaymentMethod string           `json:"paymentMethod" validate:"omitempty,alpha,max=32"`
	CustomerEmail string           `json:"customerEmail" validate:"omitempty,email"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondFailure(w, http.StatusBadRequest, "Validation failed", validationErrors(err)...)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	order, err := h.orders.CreateOrder(ctx, caller, ports.CreateOrderInput{
		TotalAmount:   *req.TotalAmount,
		PaymentMethod: req.PaymentMethod,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, order)
}

func (h *HTTPHandler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	orders, err := h.orders.GetUserOrders(ctx, caller)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, orders)
}
