package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villa-sync/backend/internal/storage/models"
)

func exportFixture() (*models.Villa, []models.Booking, []models.BlockedDate) {
	stamp := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
	ext := "HM-42"
	uid := "feed-uid@vrbo.com"
	reason := "Maintenance, pool"
	villa := &models.Villa{ID: "v1", Name: "Villa Sole"}
	bookings := []models.Booking{
		{ID: "b2", VillaID: "v1", GuestName: "Ben", StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC), Status: models.BookingStatusActive, ICalUID: &uid, Source: "vrbo", UpdatedAt: stamp},
		{ID: "b1", VillaID: "v1", GuestName: "Ana", StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), Status: models.BookingStatusConfirmed, ExternalBookingID: &ext, Source: "airbnb", UpdatedAt: stamp},
		{ID: "b3", VillaID: "v1", GuestName: "Cy", StartDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC), Status: models.BookingStatusCancelled, UpdatedAt: stamp},
		{ID: "b4", VillaID: "v1", GuestName: "Dee", StartDate: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC), Status: models.BookingStatusConfirmed, Source: "direct", UpdatedAt: stamp},
	}
	blocked := []models.BlockedDate{
		{ID: "d1", VillaID: "v1", Date: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), Reason: &reason, CreatedAt: stamp},
	}
	return villa, bookings, blocked
}

func TestExportIsDeterministic(t *testing.T) {
	villa, bookings, blocked := exportFixture()

	first := Export(villa, bookings, blocked)
	reversed := []models.Booking{bookings[3], bookings[2], bookings[1], bookings[0]}
	second := Export(villa, reversed, blocked)

	assert.Equal(t, string(first), string(second))
}

func TestExportContent(t *testing.T) {
	villa, bookings, blocked := exportFixture()
	doc := string(Export(villa, bookings, blocked))

	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n"))
	assert.True(t, strings.HasSuffix(doc, "END:VCALENDAR\r\n"))
	assert.Equal(t, 4, strings.Count(doc, "BEGIN:VEVENT"), "cancelled bookings are not exported")

	assert.Contains(t, doc, "UID:HM-42\r\n")
	assert.Contains(t, doc, "UID:feed-uid@vrbo.com\r\n")
	assert.Contains(t, doc, "UID:b4\r\n")
	assert.Contains(t, doc, "UID:blocked-d1\r\n")
	assert.Contains(t, doc, "DTSTART;VALUE=DATE:20250601\r\nDTEND;VALUE=DATE:20250605\r\n")
	assert.Contains(t, doc, "DTSTAMP:20250501T083000Z\r\n")
	assert.Contains(t, doc, "SUMMARY:Reserved: Ana\r\n")
	assert.Contains(t, doc, "DESCRIPTION:Maintenance\\, pool\r\n")
	assert.Contains(t, doc, "STATUS:CONFIRMED\r\n")
	assert.Contains(t, doc, "TRANSP:OPAQUE\r\n")

	// ordered by start date
	assert.Less(t, strings.Index(doc, "UID:HM-42"), strings.Index(doc, "UID:blocked-d1"))
	assert.Less(t, strings.Index(doc, "UID:blocked-d1"), strings.Index(doc, "UID:b4"))
}

func TestExportFoldsLongLines(t *testing.T) {
	villa, _, _ := exportFixture()
	long := models.Booking{
		ID: "b9", GuestName: strings.Repeat("Ünïcödé ", 20), Status: models.BookingStatusConfirmed,
		StartDate: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC),
	}
	doc := Export(villa, []models.Booking{long}, nil)

	for _, line := range strings.Split(strings.TrimSuffix(string(doc), "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), maxLineOctets)
	}

	events, err := NewParser(0, 0).Parse(strings.NewReader(string(doc)))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Reserved: "+long.GuestName, events[0].Summary)
}

func TestExportParsesBack(t *testing.T) {
	villa, bookings, blocked := exportFixture()
	events, err := NewParser(0, 0).Parse(strings.NewReader(string(Export(villa, bookings, blocked))))
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, "HM-42", events[0].UID)
	assert.Equal(t, "Ana", ExtractGuestName(events[0].Summary))
	assert.Equal(t, models.BookingStatusConfirmed, MapStatus(events[0].Status))
	assert.Equal(t, "airbnb", DetectSource(events[0], "ical"))
}
