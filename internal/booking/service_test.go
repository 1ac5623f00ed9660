package booking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

func newTestService(t *testing.T) (*Service, *storage.BookingRepository, string) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "booking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	villa := &models.Villa{OwnerID: "o", Name: "Villa Mare"}
	require.NoError(t, storage.NewVillaRepository(db).Create(context.Background(), villa))

	bookings := storage.NewBookingRepository(db)
	return NewService(bookings, NewConflictChecker(bookings.ListBlocking)), bookings, villa.ID
}

func TestServiceCreateRejectsOverlap(t *testing.T) {
	svc, _, villaID := newTestService(t)
	ctx := context.Background()

	first := &models.Booking{VillaID: villaID, GuestName: "Ana", StartDate: day(6, 1), EndDate: day(6, 5), TotalFare: 800}
	require.NoError(t, svc.Create(ctx, first))
	assert.Equal(t, models.BookingStatusConfirmed, first.Status)
	assert.Equal(t, models.SourceDirect, first.Source)

	overlapping := &models.Booking{VillaID: villaID, GuestName: "Ben", StartDate: day(6, 3), EndDate: day(6, 7)}
	err := svc.Create(ctx, overlapping)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, first.ID, conflictErr.Conflict.BookingID)

	adjacent := &models.Booking{VillaID: villaID, GuestName: "Cy", StartDate: day(6, 5), EndDate: day(6, 7)}
	require.NoError(t, svc.Create(ctx, adjacent))

	pending := &models.Booking{VillaID: villaID, GuestName: "Dee", StartDate: day(6, 2), EndDate: day(6, 4), Status: models.BookingStatusPending}
	require.NoError(t, svc.Create(ctx, pending), "pending bookings do not block")

	bookings, err := svc.List(ctx, villaID)
	require.NoError(t, err)
	assert.Len(t, bookings, 3)
}

func TestServiceCreateConcurrentOverlapsBookOnce(t *testing.T) {
	svc, _, villaID := newTestService(t)
	ctx := context.Background()

	const writers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
		failures  []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every range shares 8-9 June with every other
			b := &models.Booking{
				VillaID:   villaID,
				GuestName: fmt.Sprintf("guest-%d", i),
				StartDate: day(6, 1+i%7),
				EndDate:   day(6, 10+i%5),
			}
			err := svc.Create(ctx, b)

			mu.Lock()
			defer mu.Unlock()
			var conflictErr *ConflictError
			switch {
			case err == nil:
				created++
			case errors.As(err, &conflictErr):
				conflicts++
			default:
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, 1, created)
	assert.Equal(t, writers-1, conflicts)

	bookings, err := svc.List(ctx, villaID)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestServiceCancelAndDelete(t *testing.T) {
	svc, repo, villaID := newTestService(t)
	ctx := context.Background()

	ext := "BC-9"
	synced := &models.Booking{VillaID: villaID, GuestName: "Eve", StartDate: day(7, 1), EndDate: day(7, 4), Status: models.BookingStatusConfirmed, ExternalBookingID: &ext, Source: "booking_com", AutoSynced: true}
	require.NoError(t, repo.Create(ctx, synced))

	assert.ErrorIs(t, svc.Delete(ctx, synced.ID), ErrExternalBooking)

	cancelled, err := svc.Cancel(ctx, synced.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)

	stored, err := repo.GetByID(ctx, synced.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)

	direct := &models.Booking{VillaID: villaID, GuestName: "Fin", StartDate: day(7, 1), EndDate: day(7, 2)}
	require.NoError(t, svc.Create(ctx, direct), "cancelled booking no longer blocks")
	require.NoError(t, svc.Delete(ctx, direct.ID))

	_, err = repo.GetByID(ctx, direct.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
