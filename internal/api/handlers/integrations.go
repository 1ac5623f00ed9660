package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/integration"
	"github.com/villa-sync/backend/internal/storage/models"
)

// PublishRequest names the villa to list on the integration's platform.
type PublishRequest struct {
	VillaID string `json:"villa_id" validate:"required"`
}

// AvailabilityRequest opens or closes days on a villa's listing.
type AvailabilityRequest struct {
	VillaID   string   `json:"villa_id" validate:"required"`
	Dates     []string `json:"dates" validate:"required,min=1,dive,datetime=2006-01-02"`
	Available bool     `json:"available"`
}

// ListIntegrations returns integrations, optionally for one tenant.
func ListIntegrations(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := mgr.List(r.Context(), r.URL.Query().Get("tenant_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []models.Integration{}
		}
		middleware.WriteJSON(w, http.StatusOK, list)
	}
}

// CreateIntegration onboards a marketplace connection.
func CreateIntegration(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req integration.CreateRequest
		if !decode(w, r, &req) {
			return
		}

		result, err := mgr.Create(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, result)
	}
}

// GetIntegration returns one integration.
func GetIntegration(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		integ, err := mgr.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, integ)
	}
}

// DisableIntegration soft-disables an integration.
func DisableIntegration(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mgr.Disable(r.Context(), mux.Vars(r)["id"]); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// TestIntegration probes an integration's connection.
func TestIntegration(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := mgr.Test(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, status)
	}
}

// PublishVilla lists a villa through the integration.
func PublishVilla(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishRequest
		if !decode(w, r, &req) {
			return
		}

		result, err := mgr.PublishVilla(r.Context(), mux.Vars(r)["id"], req.VillaID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		code := http.StatusOK
		if !result.Success {
			code = http.StatusBadGateway
		}
		middleware.WriteJSON(w, code, result)
	}
}

// PushAvailability forwards open or closed days to the platform.
func PushAvailability(mgr *integration.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AvailabilityRequest
		if !decode(w, r, &req) {
			return
		}

		dates := make([]time.Time, 0, len(req.Dates))
		for _, d := range req.Dates {
			t, _ := time.Parse("2006-01-02", d)
			dates = append(dates, t)
		}

		if err := mgr.PushAvailability(r.Context(), mux.Vars(r)["id"], req.VillaID, dates, req.Available); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
