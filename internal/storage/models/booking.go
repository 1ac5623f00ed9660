package models

import (
	"time"
)

// Booking is a reservation, created locally or pulled from a marketplace.
type Booking struct {
	ID                string     `json:"id" db:"id"`
	VillaID           string     `json:"villa_id" db:"villa_id"`
	GuestName         string     `json:"guest_name" db:"guest_name"`
	StartDate         time.Time  `json:"start_date" db:"start_date"`
	EndDate           time.Time  `json:"end_date" db:"end_date"`
	TotalFare         float64    `json:"total_fare" db:"total_fare"`
	Status            string     `json:"status" db:"status"`
	ExternalBookingID *string    `json:"external_booking_id,omitempty" db:"external_booking_id"`
	ICalUID           *string    `json:"ical_uid,omitempty" db:"ical_uid"`
	Source            string     `json:"source" db:"source"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	AutoSynced        bool       `json:"auto_synced" db:"auto_synced"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Booking status constants
const (
	BookingStatusConfirmed = "Confirmed"
	BookingStatusActive    = "Active"
	BookingStatusPending   = "Pending"
	BookingStatusCancelled = "Cancelled"
	BookingStatusCompleted = "Completed"
)

// SourceDirect tags bookings entered by an operator.
const SourceDirect = "direct"

// BlockingStatuses are the statuses that occupy a villa's calendar.
//
//nolint:gochecknoglobals
var BlockingStatuses = []string{BookingStatusConfirmed, BookingStatusActive}

// IsBlocking returns true if the booking occupies the villa.
func (b *Booking) IsBlocking() bool {
	return b.Status == BookingStatusConfirmed || b.Status == BookingStatusActive
}

// IsExternal returns true if the booking came from a marketplace or feed.
func (b *Booking) IsExternal() bool {
	return b.AutoSynced || b.ExternalBookingID != nil || b.ICalUID != nil
}

// CalendarUID is the UID used when the booking is exported: the marketplace id
// when known, then the imported iCal UID, then the internal id.
func (b *Booking) CalendarUID() string {
	if b.ExternalBookingID != nil && *b.ExternalBookingID != "" {
		return *b.ExternalBookingID
	}
	if b.ICalUID != nil && *b.ICalUID != "" {
		return *b.ICalUID
	}
	return b.ID
}

// MatchesKey returns true if key identifies this booking by internal id,
// external booking id or iCal UID.
func (b *Booking) MatchesKey(key string) bool {
	if key == "" {
		return false
	}
	if b.ID == key {
		return true
	}
	if b.ExternalBookingID != nil && *b.ExternalBookingID == key {
		return true
	}
	return b.ICalUID != nil && *b.ICalUID == key
}

// Nights returns the number of nights covered by the booking.
func (b *Booking) Nights() int {
	return int(b.EndDate.Sub(b.StartDate).Hours() / 24)
}

// TruncateToDay returns midnight UTC of t's calendar day.
func TruncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of s or the empty string if nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
