package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/villa-sync/backend/internal/booking"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/metrics"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// ImportResult summarizes one feed import.
type ImportResult struct {
	VillaID   string           `json:"villa_id"`
	Imported  int              `json:"imported"`
	Updated   int              `json:"updated"`
	Skipped   int              `json:"skipped"`
	Conflicts []ImportConflict `json:"conflicts"`
	Errors    []EventError     `json:"errors"`
	SyncedAt  time.Time        `json:"synced_at"`
}

// ImportConflict is an event that was not stored because it overlaps an
// existing booking.
type ImportConflict struct {
	UID      string           `json:"uid"`
	Summary  string           `json:"summary"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
	Conflict booking.Conflict `json:"conflict"`
}

// EventError is a per-event failure.
type EventError struct {
	UID     string `json:"uid,omitempty"`
	Message string `json:"message"`
}

type eventOutcome int

const (
	eventImported eventOutcome = iota
	eventUpdated
	eventSkipped
	eventConflict
)

// Importer turns parsed feed events into bookings.
type Importer struct {
	bookings  *storage.BookingRepository
	villas    *storage.VillaRepository
	conflicts *booking.ConflictChecker
	now       func() time.Time
	logger    zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(bookings *storage.BookingRepository, villas *storage.VillaRepository, conflicts *booking.ConflictChecker) *Importer {
	return &Importer{
		bookings:  bookings,
		villas:    villas,
		conflicts: conflicts,
		now:       time.Now,
		logger:    logging.Component("ical-import"),
	}
}

// ImportEvents stores events into villaID. A failing event is recorded in
// Errors and never aborts the others. The returned error is reserved for
// failures that prevent the import from starting.
func (imp *Importer) ImportEvents(ctx context.Context, villaID string, events []models.CalendarEvent, defaultSource string) (*ImportResult, error) {
	blockedIDs, err := imp.villas.BlockedDateIDs(ctx, villaID)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		VillaID:   villaID,
		Conflicts: []ImportConflict{},
		Errors:    []EventError{},
		SyncedAt:  imp.now().UTC(),
	}

	for _, event := range events {
		outcome, conflict, err := imp.importEvent(ctx, villaID, event, defaultSource, blockedIDs, result.SyncedAt)
		if err != nil {
			imp.logger.Warn().Err(err).Str("villa_id", villaID).Str("uid", event.UID).Msg("event import failed")
			result.Errors = append(result.Errors, EventError{UID: event.UID, Message: err.Error()})
			metrics.ICalEventsTotal.WithLabelValues("error").Inc()
			continue
		}

		switch outcome {
		case eventImported:
			result.Imported++
			metrics.ICalEventsTotal.WithLabelValues("imported").Inc()
		case eventUpdated:
			result.Updated++
			metrics.ICalEventsTotal.WithLabelValues("updated").Inc()
		case eventSkipped:
			result.Skipped++
			metrics.ICalEventsTotal.WithLabelValues("skipped").Inc()
		case eventConflict:
			result.Conflicts = append(result.Conflicts, *conflict)
			metrics.ICalEventsTotal.WithLabelValues("conflict").Inc()
		}
	}

	imp.logger.Info().
		Str("villa_id", villaID).
		Int("events", len(events)).
		Int("imported", result.Imported).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("conflicts", len(result.Conflicts)).
		Int("errors", len(result.Errors)).
		Msg("calendar import finished")

	return result, nil
}

func (imp *Importer) importEvent(ctx context.Context, villaID string, event models.CalendarEvent, defaultSource string, blockedIDs map[string]bool, now time.Time) (outcome eventOutcome, conflict *ImportConflict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic importing event: %v", r)
		}
	}()

	if event.UID == "" {
		return 0, nil, errors.New("event has no UID")
	}

	// our own exported blocked days come back on re-import
	if id, ok := strings.CutPrefix(event.UID, models.BlockedDateUIDPrefix); ok && blockedIDs[id] {
		return eventSkipped, nil, nil
	}

	start, end := eventRange(event)
	if err := booking.ValidateRange(start, end); err != nil {
		return 0, nil, err
	}

	candidate := models.Booking{
		VillaID:      villaID,
		GuestName:    ExtractGuestName(event.Summary),
		StartDate:    start,
		EndDate:      end,
		Status:       MapStatus(event.Status),
		ICalUID:      models.StringPtr(event.UID),
		Source:       DetectSource(event, defaultSource),
		LastSyncedAt: &now,
		AutoSynced:   true,
	}

	existing, err := imp.bookings.FindByKey(ctx, villaID, event.UID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, nil, err
	}

	if existing == nil && candidate.Status == models.BookingStatusCancelled {
		return eventSkipped, nil, nil
	}

	target, outcome := &candidate, eventImported
	if existing != nil {
		if !Changed(existing, &candidate) {
			return eventSkipped, nil, nil
		}
		existing.GuestName = candidate.GuestName
		existing.StartDate = candidate.StartDate
		existing.EndDate = candidate.EndDate
		existing.Status = candidate.Status
		existing.LastSyncedAt = &now
		if existing.ICalUID == nil && existing.ExternalBookingID == nil && existing.ID != event.UID {
			existing.ICalUID = candidate.ICalUID
		}
		target, outcome = existing, eventUpdated
	}

	var check storage.BlockingCheck
	if target.IsBlocking() {
		check = imp.conflicts.Guard(villaID, start, end, event.UID)
	}
	if outcome == eventUpdated {
		err = imp.bookings.UpdateChecked(ctx, target, check)
	} else {
		err = imp.bookings.CreateChecked(ctx, target, check)
	}

	var conflictErr *booking.ConflictError
	if errors.As(err, &conflictErr) {
		return eventConflict, &ImportConflict{
			UID:      event.UID,
			Summary:  event.Summary,
			Start:    start,
			End:      end,
			Conflict: conflictErr.Conflict,
		}, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return outcome, nil, nil
}

// eventRange converts an event to a whole-day booking range. A same-day
// event occupies that one night.
func eventRange(event models.CalendarEvent) (time.Time, time.Time) {
	start := models.TruncateToDay(event.Start)
	end := models.TruncateToDay(event.End)
	if end.Equal(start) && event.End.After(event.Start) {
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

// Changed reports whether incoming differs from existing in guest name,
// status or date range. Active and Confirmed count as the same status.
func Changed(existing, incoming *models.Booking) bool {
	return existing.GuestName != incoming.GuestName ||
		normalizeStatus(existing.Status) != normalizeStatus(incoming.Status) ||
		!existing.StartDate.Equal(incoming.StartDate) ||
		!existing.EndDate.Equal(incoming.EndDate)
}

func normalizeStatus(status string) string {
	if status == models.BookingStatusActive {
		return models.BookingStatusConfirmed
	}
	return status
}
