package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
)

// ApiResponse is the envelope every JSON endpoint returns.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// OwnerMiddleware wraps a handler with the owner-scoped database connection.
type OwnerMiddleware func(http.HandlerFunc) http.HandlerFunc

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps service sentinels to an HTTP status and error code.
// Unknown errors are internal.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperrors.ErrInvalidParent):
		return http.StatusBadRequest, "invalid_parent"
	case errors.Is(err, apperrors.ErrMaxDepthExceeded):
		return http.StatusBadRequest, "max_depth_exceeded"
	case errors.Is(err, apperrors.ErrLastIdentity):
		return http.StatusConflict, "last_identity"
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrClassifierUnavailable):
		return http.StatusServiceUnavailable, "classifier_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteServiceError writes the response for an error returned by a service.
// Internal errors are logged and their detail is not sent to the client.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger, msg string) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		message = "Internal server error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

// writeData writes a successful envelope.
func writeData(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
