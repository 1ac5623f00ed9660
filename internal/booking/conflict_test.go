package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villa-sync/backend/internal/storage/models"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func staticFinder(bookings ...models.Booking) BlockingFinder {
	return func(_ context.Context, _ string, _, _ time.Time) ([]models.Booking, error) {
		return bookings, nil
	}
}

func TestOverlaps(t *testing.T) {
	existingStart, existingEnd := day(6, 1), day(6, 5)

	testCases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"identical", day(6, 1), day(6, 5), true},
		{"starts during", day(6, 3), day(6, 7), true},
		{"ends during", day(5, 28), day(6, 2), true},
		{"new contains existing", day(5, 30), day(6, 10), true},
		{"existing contains new", day(6, 2), day(6, 3), true},
		{"touches end", day(6, 5), day(6, 9), false},
		{"touches start", day(5, 25), day(6, 1), false},
		{"disjoint before", day(5, 1), day(5, 3), false},
		{"disjoint after", day(7, 1), day(7, 3), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Overlaps(tc.start, tc.end, existingStart, existingEnd))
			assert.Equal(t, tc.want, Overlaps(existingStart, existingEnd, tc.start, tc.end), "predicate must be symmetric")
		})
	}
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, ValidateRange(day(6, 1), day(6, 2)))
	assert.ErrorIs(t, ValidateRange(day(6, 2), day(6, 2)), ErrInvalidRange)
	assert.ErrorIs(t, ValidateRange(day(6, 3), day(6, 2)), ErrInvalidRange)
	assert.ErrorIs(t, ValidateRange(time.Time{}, day(6, 2)), ErrInvalidRange)
}

func TestHasConflict(t *testing.T) {
	ext := "HM-1"
	uid := "feed-uid-1"
	confirmed := models.Booking{ID: "b1", VillaID: "v1", GuestName: "Ana", StartDate: day(6, 1), EndDate: day(6, 5), Status: models.BookingStatusConfirmed, ExternalBookingID: &ext}
	active := models.Booking{ID: "b2", VillaID: "v1", GuestName: "Ben", StartDate: day(6, 10), EndDate: day(6, 12), Status: models.BookingStatusActive, ICalUID: &uid}
	cancelled := models.Booking{ID: "b3", VillaID: "v1", StartDate: day(6, 20), EndDate: day(6, 25), Status: models.BookingStatusCancelled}
	checker := NewConflictChecker(staticFinder(confirmed, active, cancelled))
	ctx := context.Background()

	got, err := checker.HasConflict(ctx, "v1", day(6, 3), day(6, 7), "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b1", got.ID)

	got, err = checker.HasConflict(ctx, "v1", day(6, 11), day(6, 15), "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b2", got.ID)

	got, err = checker.HasConflict(ctx, "v1", day(6, 21), day(6, 22), "")
	require.NoError(t, err)
	assert.Nil(t, got, "cancelled bookings never block")

	got, err = checker.HasConflict(ctx, "v1", day(6, 5), day(6, 10), "")
	require.NoError(t, err)
	assert.Nil(t, got, "touching endpoints are not conflicts")

	for _, key := range []string{"b1", "HM-1"} {
		got, err = checker.HasConflict(ctx, "v1", day(6, 2), day(6, 4), key)
		require.NoError(t, err)
		assert.Nil(t, got, "excluded by %s", key)
	}

	got, err = checker.HasConflict(ctx, "v1", day(6, 9), day(6, 11), "feed-uid-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = checker.HasConflict(ctx, "v1", day(6, 9), day(6, 9), "")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestCheckConflictsReportsOverlapWindow(t *testing.T) {
	existing := models.Booking{ID: "b1", VillaID: "v1", GuestName: "Ana", StartDate: day(6, 1), EndDate: day(6, 5), Status: models.BookingStatusConfirmed, Source: "airbnb"}
	checker := NewConflictChecker(staticFinder(existing))

	conflicts, err := checker.CheckConflicts(context.Background(), "v1", day(6, 3), day(6, 7), "")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, day(6, 3), conflicts[0].OverlapStart)
	assert.Equal(t, day(6, 5), conflicts[0].OverlapEnd)
	assert.Equal(t, "airbnb", conflicts[0].Source)
}

func TestHasConflictPropagatesFinderError(t *testing.T) {
	boom := errors.New("db down")
	checker := NewConflictChecker(func(context.Context, string, time.Time, time.Time) ([]models.Booking, error) {
		return nil, boom
	})

	_, err := checker.HasConflict(context.Background(), "v1", day(6, 1), day(6, 2), "")
	assert.ErrorIs(t, err, boom)
}
