package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/villa-sync/backend/internal/storage/models"
)

// BookingRepository provides data access for bookings.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const bookingColumns = `id, villa_id, guest_name, start_date, end_date, total_fare, status,
	external_booking_id, ical_uid, source, last_synced_at, auto_synced, created_at, updated_at`

const (
	insertBookingSQL = `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (:id, :villa_id, :guest_name, :start_date, :end_date, :total_fare, :status,
			:external_booking_id, :ical_uid, :source, :last_synced_at, :auto_synced, :created_at, :updated_at)`
	updateBookingSQL = `
		UPDATE bookings SET
			guest_name = :guest_name, start_date = :start_date, end_date = :end_date,
			total_fare = :total_fare, status = :status, external_booking_id = :external_booking_id,
			ical_uid = :ical_uid, source = :source, last_synced_at = :last_synced_at,
			auto_synced = :auto_synced, updated_at = :updated_at
		WHERE id = :id`
	blockingBookingsSQL = `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE villa_id = ? AND status IN (?, ?) AND start_date < ? AND end_date > ?
		ORDER BY start_date, id`
)

// BlockingCheck inspects the Confirmed and Active bookings that overlap a
// pending write. A non-nil error aborts the write.
type BlockingCheck func(blocking []models.Booking) error

func (r *BookingRepository) prepareCreate(b *models.Booking) {
	if b.ID == "" {
		b.ID = GenerateID()
	}
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	b.CreatedAt = r.Now()
	b.UpdatedAt = b.CreatedAt
	if b.Source == "" {
		b.Source = models.SourceDirect
	}
}

func (r *BookingRepository) prepareUpdate(b *models.Booking) {
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	b.UpdatedAt = r.Now()
}

// Create inserts a new booking. A second booking with the same source and
// external booking id fails with ErrDuplicate.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	r.prepareCreate(b)
	_, err := r.namedExec(ctx, insertBookingSQL, b)
	return insertError(err)
}

// CreateChecked inserts b in the same transaction that reads the blocking
// bookings overlapping its range, so no other write lands between check and
// insert. Errors from check roll back and are returned unchanged. A nil
// check inserts unconditionally.
func (r *BookingRepository) CreateChecked(ctx context.Context, b *models.Booking, check BlockingCheck) error {
	r.prepareCreate(b)
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := runCheck(ctx, tx, b, check); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, insertBookingSQL, b)
		return insertError(err)
	})
}

// Update saves all mutable fields of an existing booking.
func (r *BookingRepository) Update(ctx context.Context, b *models.Booking) error {
	r.prepareUpdate(b)
	res, err := r.namedExec(ctx, updateBookingSQL, b)
	if err != nil {
		return fmt.Errorf("updating booking: %w", err)
	}
	return requireAffected(res)
}

// UpdateChecked is Update guarded by check the way CreateChecked is.
func (r *BookingRepository) UpdateChecked(ctx context.Context, b *models.Booking, check BlockingCheck) error {
	r.prepareUpdate(b)
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := runCheck(ctx, tx, b, check); err != nil {
			return err
		}
		res, err := tx.NamedExecContext(ctx, updateBookingSQL, b)
		if err != nil {
			return fmt.Errorf("updating booking: %w", err)
		}
		return requireAffected(res)
	})
}

func runCheck(ctx context.Context, tx *sqlx.Tx, b *models.Booking, check BlockingCheck) error {
	if check == nil {
		return nil
	}
	var blocking []models.Booking
	err := tx.SelectContext(ctx, &blocking, blockingBookingsSQL,
		b.VillaID, models.BookingStatusConfirmed, models.BookingStatusActive, b.EndDate, b.StartDate)
	if err != nil {
		return fmt.Errorf("querying blocking bookings: %w", err)
	}
	return check(blocking)
}

func insertError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return fmt.Errorf("inserting booking: %w", err)
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

// FindByKey looks a booking up within a villa by external booking id, iCal
// UID or internal id, in that order of preference.
func (r *BookingRepository) FindByKey(ctx context.Context, villaID, key string) (*models.Booking, error) {
	return r.getOne(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE villa_id = ? AND (external_booking_id = ? OR ical_uid = ? OR id = ?)
		ORDER BY CASE WHEN external_booking_id = ? THEN 0 WHEN ical_uid = ? THEN 1 ELSE 2 END
		LIMIT 1
	`, villaID, key, key, key, key, key)
}

// FindByExternalID looks a booking up by the id its platform assigned.
func (r *BookingRepository) FindByExternalID(ctx context.Context, source, externalID string) (*models.Booking, error) {
	return r.getOne(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE source = ? AND external_booking_id = ?
	`, source, externalID)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, args ...any) (*models.Booking, error) {
	b := &models.Booking{}
	if err := r.get(ctx, b, query, args...); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return b, nil
}

// ListByVilla retrieves all bookings for a villa ordered by start date.
func (r *BookingRepository) ListByVilla(ctx context.Context, villaID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.DB().SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+` FROM bookings WHERE villa_id = ? ORDER BY start_date, id
	`, villaID)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	return bookings, nil
}

// ListBlocking retrieves Confirmed and Active bookings of the villa that
// overlap [start, end).
func (r *BookingRepository) ListBlocking(ctx context.Context, villaID string, start, end time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.DB().SelectContext(ctx, &bookings, blockingBookingsSQL, villaID, models.BookingStatusConfirmed, models.BookingStatusActive, end.UTC(), start.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying blocking bookings: %w", err)
	}
	return bookings, nil
}

// UpdateStatus changes the status of a booking.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.exec(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`, status, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating booking status: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a booking by ID.
func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting booking: %w", err)
	}
	return requireAffected(res)
}

// CompletePast marks Confirmed and Active bookings that ended before now as Completed.
func (r *BookingRepository) CompletePast(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.exec(ctx, `
		UPDATE bookings SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND end_date <= ?
	`, models.BookingStatusCompleted, r.Now(), models.BookingStatusConfirmed, models.BookingStatusActive, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("completing past bookings: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of bookings per status.
func (r *BookingRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.DB().SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM bookings GROUP BY status`); err != nil {
		return nil, fmt.Errorf("counting bookings: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
