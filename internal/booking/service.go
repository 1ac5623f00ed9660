package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// ErrExternalBooking is returned when deleting a booking that came from a
// marketplace or feed. Such bookings are cancelled instead.
var ErrExternalBooking = errors.New("booking: externally sourced bookings cannot be deleted")

// ConflictError reports the existing booking that blocks a new one.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking overlaps existing booking %s (%s to %s)",
		e.Conflict.BookingID,
		e.Conflict.OverlapStart.Format("2006-01-02"),
		e.Conflict.OverlapEnd.Format("2006-01-02"))
}

// Service handles bookings entered directly by operators.
type Service struct {
	bookings  *storage.BookingRepository
	conflicts *ConflictChecker
	logger    zerolog.Logger
}

// NewService creates a booking service.
func NewService(bookings *storage.BookingRepository, conflicts *ConflictChecker) *Service {
	return &Service{
		bookings:  bookings,
		conflicts: conflicts,
		logger:    logging.Component("booking"),
	}
}

// Create stores a direct booking after checking it against the villa's
// Confirmed and Active bookings. An overlap returns a *ConflictError.
func (s *Service) Create(ctx context.Context, b *models.Booking) error {
	b.StartDate = models.TruncateToDay(b.StartDate)
	b.EndDate = models.TruncateToDay(b.EndDate)
	if err := ValidateRange(b.StartDate, b.EndDate); err != nil {
		return err
	}
	if b.Status == "" {
		b.Status = models.BookingStatusConfirmed
	}
	if b.Source == "" {
		b.Source = models.SourceDirect
	}

	var check storage.BlockingCheck
	if b.IsBlocking() {
		check = s.conflicts.Guard(b.VillaID, b.StartDate, b.EndDate, "")
	}
	if err := s.bookings.CreateChecked(ctx, b, check); err != nil {
		return err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("villa_id", b.VillaID).
		Time("start", b.StartDate).
		Time("end", b.EndDate).
		Msg("booking created")
	return nil
}

// Conflicts lists the Confirmed and Active bookings of villaID that overlap
// [start, end), so an operator can check dates before booking them.
func (s *Service) Conflicts(ctx context.Context, villaID string, start, end time.Time) ([]Conflict, error) {
	return s.conflicts.CheckConflicts(ctx, villaID, models.TruncateToDay(start), models.TruncateToDay(end), "")
}

// List returns all bookings of a villa.
func (s *Service) List(ctx context.Context, villaID string) ([]models.Booking, error) {
	return s.bookings.ListByVilla(ctx, villaID)
}

// Cancel marks a booking Cancelled. It is the only removal path for
// externally sourced bookings.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingStatusCancelled {
		return b, nil
	}

	if err := s.bookings.UpdateStatus(ctx, id, models.BookingStatusCancelled); err != nil {
		return nil, err
	}
	b.Status = models.BookingStatusCancelled

	s.logger.Info().Str("booking_id", id).Str("source", b.Source).Msg("booking cancelled")
	return b, nil
}

// Delete hard-deletes a direct booking.
func (s *Service) Delete(ctx context.Context, id string) error {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b.IsExternal() {
		return ErrExternalBooking
	}
	return s.bookings.Delete(ctx, id)
}
