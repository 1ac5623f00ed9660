package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/scheduler"
)

// ImportNotifier announces finished imports to connected clients.
type ImportNotifier interface {
	NotifyImport(result *calendar.ImportResult) error
}

// CalendarSourceRequest sets or clears a villa's external iCal feed.
type CalendarSourceRequest struct {
	URL    string `json:"url" validate:"omitempty,url"`
	Source string `json:"source" validate:"omitempty,max=64"`
}

// ImportRequest imports a one-off feed URL. An empty URL imports the
// villa's configured source.
type ImportRequest struct {
	URL    string `json:"url" validate:"omitempty,url"`
	Source string `json:"source" validate:"omitempty,max=64"`
}

// FeedTokenResponse carries a freshly rotated subscription token.
type FeedTokenResponse struct {
	FeedToken string `json:"feed_token"`
}

// ExportCalendar downloads a villa's calendar as an attachment.
func ExportCalendar(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		villa, doc, err := svc.ExportVilla(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", calendar.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="villa-%s.ics"`, villa.ID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	}
}

// CalendarFeed serves the token-protected subscription feed.
func CalendarFeed(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		doc, err := svc.ExportFeed(r.Context(), vars["villaId"], vars["token"])
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", calendar.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	}
}

// SetCalendarSource stores the villa's external iCal feed URL.
func SetCalendarSource(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CalendarSourceRequest
		if !decode(w, r, &req) {
			return
		}

		if err := svc.SetCalendarSource(r.Context(), mux.Vars(r)["id"], req.URL, req.Source); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ImportCalendar imports a feed into the villa while holding the sync gate.
func ImportCalendar(svc *calendar.Service, sched *scheduler.Scheduler, notifier ImportNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}

		villaID := mux.Vars(r)["id"]
		var result *calendar.ImportResult
		err := sched.Exclusive(scheduler.JobManual, func() error {
			var err error
			if req.URL != "" {
				result, err = svc.ImportFromURL(r.Context(), villaID, req.URL, req.Source)
			} else {
				result, err = svc.ImportVilla(r.Context(), villaID)
			}
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if notifier != nil {
			if err := notifier.NotifyImport(result); err != nil {
				logging.Logger.Warn().Err(err).Str("villa_id", villaID).Msg("failed to broadcast import")
			}
		}
		middleware.WriteJSON(w, http.StatusOK, result)
	}
}

// RotateFeedToken replaces the villa's subscription token.
func RotateFeedToken(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := svc.RotateFeedToken(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, FeedTokenResponse{FeedToken: token})
	}
}
