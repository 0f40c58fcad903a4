package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"

	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

const dateLayout = "2006-01-02"

type submitPaymentRequest struct {
	OrderID       string           `json:"orderId"       validate:"required,uuid"`
	ReferenceCode string           `json:"referenceCode" validate:"required,max=64"`
	Amount        *decimal.Decimal `json:"amount"        validate:"required"`
}

type verifyPaymentRequest struct {
	Action          string `json:"action"          validate:"required,oneof=confirm reject"`
	RejectionReason string `json:"rejectionReason" validate:"max=500"`
	// TransactionCode is the code the admin found on the provider statement.
	TransactionCode string `json:"transactionCode" validate:"omitempty,max=64"`
}

func (h *HTTPHandler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req submitPaymentRequest
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

	order, err := h.payments.SubmitPayment(ctx, caller, ports.SubmitPaymentInput{
		OrderID:       req.OrderID,
		ReferenceCode: req.ReferenceCode,
		Amount:        *req.Amount,
	})
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, order)
}

func (h *HTTPHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req verifyPaymentRequest
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

	result, err := h.payments.VerifyPayment(ctx, caller, ports.VerifyPaymentInput{
		OrderID:           orderID,
		Action:            ports.VerifyAction(req.Action),
		RejectionReason:   strings.TrimSpace(req.RejectionReason),
		ExpectedReference: req.TransactionCode,
	})
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, result)
}

func (h *HTTPHandler) GetOrderPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	result, err := h.payments.GetOrderPayment(ctx, caller, orderID)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, result)
}

func (h *HTTPHandler) ListPaymentEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	events, err := h.payments.ListPaymentEvents(ctx, caller, orderID)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, events)
}

func (h *HTTPHandler) GetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	history, err := h.payments.GetPaymentHistory(ctx, caller)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, history)
}

func (h *HTTPHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	filter, errs := parsePaymentFilter(r)
	if len(errs) > 0 {
		respondFailure(w, http.StatusBadRequest, "Invalid filters", errs...)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	payments, err := h.payments.ListPayments(ctx, caller, filter)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, payments)
}

func (h *HTTPHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ports.RequestTimeout)
	defer cancel()

	stats, err := h.payments.GetStatistics(ctx, caller)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	respondOK(w, http.StatusOK, stats)
}

func (h *HTTPHandler) orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := mux.Vars(r)["orderId"]
	if err := h.validate.Var(orderID, "required,uuid"); err != nil {
		respondFailure(w, http.StatusBadRequest, "Invalid order id",
			FieldError{Field: "orderId", Message: "must be a valid id"})
		return "", false
	}
	return orderID, true
}

// parsePaymentFilter reads verified, status, startDate and endDate. Dates are
// RFC 3339 timestamps or plain days; a plain endDate covers the whole day.
func parsePaymentFilter(r *http.Request) (entities.PaymentFilter, []FieldError) {
	var (
		filter entities.PaymentFilter
		errs   []FieldError
	)
	q := r.URL.Query()

	if v := q.Get("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, FieldError{Field: "verified", Message: "must be true or false"})
		} else {
			filter.Verified = pointy.Bool(b)
		}
	}

	if v := q.Get("status"); v != "" {
		status := entities.LedgerStatus(strings.ToLower(v))
		if !status.Valid() {
			errs = append(errs, FieldError{Field: "status", Message: "must be one of: awaiting verified rejected"})
		} else {
			filter.Status = pointy.Pointer(status)
		}
	}

	if v := q.Get("startDate"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			errs = append(errs, FieldError{Field: "startDate", Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
		} else {
			filter.From = pointy.Pointer(t)
		}
	}

	if v := q.Get("endDate"); v != "" {
		t, dayOnly, err := parseDate(v)
		if err != nil {
			errs = append(errs, FieldError{Field: "endDate", Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
		} else {
			if dayOnly {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			filter.To = pointy.Pointer(t)
		}
	}

	return filter, errs
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, time.UTC)
	return t, true, err
}
