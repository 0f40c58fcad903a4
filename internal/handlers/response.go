package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sand/storefront-payments/backend/internal/usecases"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// envelope is the body of every API response.
type envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondFailure(w http.ResponseWriter, status int, message string, errs ...FieldError) {
	writeJSON(w, status, envelope{Success: false, Message: message, Errors: errs})
}

// respondError maps service failures onto HTTP statuses. Internal errors are
// logged and hidden behind a generic message.
func respondError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecases.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecases.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, usecases.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, usecases.ErrInvalid):
		status = http.StatusBadRequest
	}

	var typed *usecases.Error
	if status != http.StatusInternalServerError && errors.As(err, &typed) {
		respondFailure(w, status, typed.Message)
		return
	}

	logger.ErrorContext(r.Context(), "Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
	respondFailure(w, http.StatusInternalServerError, "Server error")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid id"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid"
}
