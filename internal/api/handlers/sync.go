package handlers

import (
	"net/http"
	"strconv"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/orchestrator"
	"github.com/villa-sync/backend/internal/scheduler"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// SyncRequest selects integrations by villa and/or platform.
type SyncRequest struct {
	VillaID  string          `json:"villa_id" validate:"required_without=Platform"`
	Platform models.Platform `json:"platform" validate:"required_without=VillaID"`
}

// SyncNow runs a manual sync for the selected integrations.
func SyncNow(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SyncRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Platform != "" && !req.Platform.Valid() {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Unknown platform")
			return
		}

		results, err := sched.SyncNow(r.Context(), req.VillaID, req.Platform)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeResults(w, results)
	}
}

// SyncAll runs a manual sync of every active integration.
func SyncAll(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := sched.SyncAll(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeResults(w, results)
	}
}

func writeResults(w http.ResponseWriter, results []orchestrator.Result) {
	if results == nil {
		results = []orchestrator.Result{}
	}
	middleware.WriteJSON(w, http.StatusOK, results)
}

// ListSyncLogs returns recent sync log entries.
func ListSyncLogs(logs *storage.SyncLogRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := storage.SyncLogFilter{
			IntegrationID: q.Get("integration_id"),
			Platform:      models.Platform(q.Get("platform")),
			Outcome:       q.Get("outcome"),
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "limit must be a positive integer")
				return
			}
			filter.Limit = limit
		}

		entries, err := logs.List(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if entries == nil {
			entries = []models.SyncLog{}
		}
		middleware.WriteJSON(w, http.StatusOK, entries)
	}
}
