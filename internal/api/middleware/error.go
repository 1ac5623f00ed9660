// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/villa-sync/backend/internal/logging"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.Warn().Err(err).Msg("encoding response failed")
	}
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// WriteErrorWithDetails writes a JSON error response with additional details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, errCode, message string, details any) {
	WriteJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
		Details: details,
	})
}

// ErrorRecovery is middleware that recovers from panics and returns a 500 error.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Logger.Error().
					Interface("panic", err).
					Str("request_id", RequestID(r.Context())).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Common error codes
const (
	ErrNotFound       = "not_found"
	ErrBadRequest     = "bad_request"
	ErrConflict       = "conflict"
	ErrInternalError  = "internal_error"
	ErrValidation     = "validation_error"
	ErrSyncInProgress = "sync_in_progress"
)
