package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondServiceError converts a service error into its HTTP status. Business
// rule errors carry their own message; anything unexpected is logged and
// reported generically.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, domain.ErrValidation):
		httpStatus = http.StatusUnprocessableEntity
		code = "validation_error"
	case errors.Is(err, domain.ErrEmptyCart):
		httpStatus = http.StatusBadRequest
		code = "empty_cart"
	case errors.Is(err, domain.ErrItemNotInCart):
		httpStatus = http.StatusBadRequest
		code = "item_not_in_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		httpStatus = http.StatusBadRequest
		code = "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		httpStatus = http.StatusBadRequest
		code = "invalid_state_transition"
	case errors.Is(err, domain.ErrUnauthorized):
		httpStatus = http.StatusUnauthorized
		code = "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		httpStatus = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, domain.ErrConflict):
		httpStatus = http.StatusConflict
		code = "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request timed out", zap.Error(err))
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
		return
	default:
		logger.Error("unhandled service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
