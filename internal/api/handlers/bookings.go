package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/booking"
	"github.com/villa-sync/backend/internal/storage/models"
)

// CreateBookingRequest is a direct booking entered by an operator.
type CreateBookingRequest struct {
	GuestName string  `json:"guest_name" validate:"required"`
	StartDate string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	TotalFare float64 `json:"total_fare" validate:"gte=0"`
	Status    string  `json:"status" validate:"omitempty,oneof=Confirmed Pending"`
}

// ListVillaBookings returns a villa's bookings.
func ListVillaBookings(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []models.Booking{}
		}
		middleware.WriteJSON(w, http.StatusOK, list)
	}
}

// CreateBooking stores a direct booking, rejecting overlaps with 409.
func CreateBooking(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decode(w, r, &req) {
			return
		}

		start, _ := time.Parse("2006-01-02", req.StartDate)
		end, _ := time.Parse("2006-01-02", req.EndDate)

		b := &models.Booking{
			VillaID:   mux.Vars(r)["id"],
			GuestName: req.GuestName,
			StartDate: start,
			EndDate:   end,
			TotalFare: req.TotalFare,
			Status:    req.Status,
		}
		if err := svc.Create(r.Context(), b); err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, b)
	}
}

// CheckBookingConflicts reports whether ?start=&end= (YYYY-MM-DD) is free
// on the villa and lists the bookings in the way.
func CheckBookingConflicts(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, errStart := time.Parse("2006-01-02", q.Get("start"))
		end, errEnd := time.Parse("2006-01-02", q.Get("end"))
		if errStart != nil || errEnd != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "start and end must be YYYY-MM-DD dates")
			return
		}

		conflicts, err := svc.Conflicts(r.Context(), mux.Vars(r)["id"], start, end)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"available": len(conflicts) == 0,
			"conflicts": conflicts,
		})
	}
}

// CancelBooking marks a booking cancelled.
func CancelBooking(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.Cancel(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, b)
	}
}

// DeleteBooking hard-deletes a direct booking.
func DeleteBooking(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
