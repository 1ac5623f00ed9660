package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// CreateVillaRequest registers a villa.
type CreateVillaRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Name    string `json:"name" validate:"required,max=200"`
}

// BlockDateRequest closes a single day on a villa.
type BlockDateRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// VillaResponse exposes the feed token to the owner, unlike models.Villa.
type VillaResponse struct {
	models.Villa
	FeedToken string `json:"feed_token"`
}

// ListVillas returns all villas.
func ListVillas(villas *storage.VillaRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := villas.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []models.Villa{}
		}
		middleware.WriteJSON(w, http.StatusOK, list)
	}
}

// CreateVilla registers a new villa.
func CreateVilla(villas *storage.VillaRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateVillaRequest
		if !decode(w, r, &req) {
			return
		}

		villa := &models.Villa{OwnerID: req.OwnerID, Name: req.Name}
		if err := villas.Create(r.Context(), villa); err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, VillaResponse{Villa: *villa, FeedToken: villa.FeedToken})
	}
}

// GetVilla returns one villa.
func GetVilla(villas *storage.VillaRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		villa, err := villas.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, VillaResponse{Villa: *villa, FeedToken: villa.FeedToken})
	}
}

// BlockDate closes a day on the villa's calendar.
func BlockDate(villas *storage.VillaRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockDateRequest
		if !decode(w, r, &req) {
			return
		}

		villaID := mux.Vars(r)["id"]
		if _, err := villas.GetByID(r.Context(), villaID); err != nil {
			writeServiceError(w, err)
			return
		}

		date, _ := time.Parse("2006-01-02", req.Date)
		blocked := &models.BlockedDate{VillaID: villaID, Date: date}
		if req.Reason != "" {
			blocked.Reason = models.StringPtr(req.Reason)
		}
		if err := villas.AddBlockedDate(r.Context(), blocked); err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, blocked)
	}
}
