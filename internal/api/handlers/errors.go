// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/booking"
	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/integration"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/platform"
	"github.com/villa-sync/backend/internal/scheduler"
	"github.com/villa-sync/backend/internal/storage"
)

//nolint:gochecknoglobals
var validate = validator.New()

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeServiceError(w, err)
		return false
	}
	return true
}

// writeServiceError maps domain errors onto the API error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	var conflictErr *booking.ConflictError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &conflictErr):
		middleware.WriteErrorWithDetails(w, http.StatusConflict, middleware.ErrConflict, "Booking overlaps an existing booking", conflictErr.Conflict)
	case errors.As(err, &validationErrs):
		fields := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			fields[fe.Field()] = fe.Tag()
		}
		middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation, "Request failed validation", fields)
	case errors.Is(err, storage.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Resource not found")
	case errors.Is(err, scheduler.ErrSyncInProgress):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrSyncInProgress, "A sync is already in progress")
	case errors.Is(err, storage.ErrDuplicate),
		errors.Is(err, booking.ErrExternalBooking),
		errors.Is(err, integration.ErrInactive):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())
	case errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, platform.ErrMissingCredential),
		errors.Is(err, platform.ErrUnknownPlatform):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
	case errors.Is(err, calendar.ErrInvalidFeedURL),
		errors.Is(err, calendar.ErrNoCalendarSource),
		errors.Is(err, calendar.ErrFeedTooLarge),
		errors.Is(err, integration.ErrConnectionFailed),
		errors.Is(err, integration.ErrNoListing),
		errors.Is(err, platform.ErrListingNotFound):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, err.Error())
	default:
		logging.Logger.Error().Err(err).Msg("request failed")
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}
