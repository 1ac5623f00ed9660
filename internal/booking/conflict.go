// Package booking guards the no-double-booking invariant and owns the
// direct booking lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// ErrInvalidRange is returned for a date range whose start is not before its end.
var ErrInvalidRange = errors.New("booking: start date must be before end date")

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) share at least one instant. Ranges touching at an endpoint
// do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ValidateRange rejects empty and inverted ranges.
func ValidateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return ErrInvalidRange
	}
	return nil
}

// BlockingFinder returns Confirmed and Active bookings of a villa that may
// overlap [start, end).
type BlockingFinder func(ctx context.Context, villaID string, start, end time.Time) ([]models.Booking, error)

// ConflictChecker detects overlapping bookings on the same villa.
type ConflictChecker struct {
	findBlocking BlockingFinder
}

// NewConflictChecker creates a new conflict checker.
func NewConflictChecker(find BlockingFinder) *ConflictChecker {
	return &ConflictChecker{
		findBlocking: find,
	}
}

// Conflict describes one existing booking that overlaps a candidate range.
type Conflict struct {
	BookingID         string    `json:"booking_id"`
	ExternalBookingID string    `json:"external_booking_id,omitempty"`
	GuestName         string    `json:"guest_name"`
	Source            string    `json:"source"`
	OverlapStart      time.Time `json:"overlap_start"`
	OverlapEnd        time.Time `json:"overlap_end"`
}

// NewConflict builds the overlap description between b and [start, end).
func NewConflict(b *models.Booking, start, end time.Time) Conflict {
	overlapStart := start
	if b.StartDate.After(overlapStart) {
		overlapStart = b.StartDate
	}
	overlapEnd := end
	if b.EndDate.Before(overlapEnd) {
		overlapEnd = b.EndDate
	}
	return Conflict{
		BookingID:         b.ID,
		ExternalBookingID: models.Deref(b.ExternalBookingID),
		GuestName:         b.GuestName,
		Source:            b.Source,
		OverlapStart:      overlapStart,
		OverlapEnd:        overlapEnd,
	}
}

// HasConflict returns the first blocking booking of villaID that overlaps
// [start, end), or nil. A booking identified by excludeKey (internal id,
// external booking id or iCal UID) is ignored so a resync does not collide
// with its own prior state.
func (c *ConflictChecker) HasConflict(ctx context.Context, villaID string, start, end time.Time, excludeKey string) (*models.Booking, error) {
	conflicts, err := c.find(ctx, villaID, start, end, excludeKey)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, nil
	}
	return &conflicts[0], nil
}

// CheckConflicts lists every overlap with its overlap window.
func (c *ConflictChecker) CheckConflicts(ctx context.Context, villaID string, start, end time.Time, excludeKey string) ([]Conflict, error) {
	found, err := c.find(ctx, villaID, start, end, excludeKey)
	if err != nil {
		return nil, err
	}

	conflicts := make([]Conflict, 0, len(found))
	for i := range found {
		conflicts = append(conflicts, NewConflict(&found[i], start, end))
	}
	return conflicts, nil
}

func (c *ConflictChecker) find(ctx context.Context, villaID string, start, end time.Time, excludeKey string) ([]models.Booking, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}

	candidates, err := c.findBlocking(ctx, villaID, start, end)
	if err != nil {
		return nil, fmt.Errorf("checking conflicts: %w", err)
	}

	return overlapping(candidates, villaID, start, end, excludeKey), nil
}

// Guard returns a check for BookingRepository.CreateChecked and
// UpdateChecked. It applies the same rules as HasConflict to the rows read
// inside the write transaction and fails with *ConflictError on the first
// overlap.
func (c *ConflictChecker) Guard(villaID string, start, end time.Time, excludeKey string) storage.BlockingCheck {
	return func(blocking []models.Booking) error {
		found := overlapping(blocking, villaID, start, end, excludeKey)
		if len(found) == 0 {
			return nil
		}
		return &ConflictError{Conflict: NewConflict(&found[0], start, end)}
	}
}

func overlapping(candidates []models.Booking, villaID string, start, end time.Time, excludeKey string) []models.Booking {
	var out []models.Booking
	for _, b := range candidates {
		if !b.IsBlocking() || b.VillaID != villaID {
			continue
		}
		if b.MatchesKey(excludeKey) {
			continue
		}
		if Overlaps(start, end, b.StartDate, b.EndDate) {
			out = append(out, b)
		}
	}
	return out
}
