package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Airbnb Inc//Hosting Calendar 0.8.8//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART;VALUE=DATE:20250601\r\n" +
	"DTEND;VALUE=DATE:20250605\r\n" +
	"UID:1418fb94e984-abc@airbnb.com\r\n" +
	"SUMMARY:Reserved: Maria Rossi\r\n" +
	"DESCRIPTION:Reservation URL: https://www.airbnb.com/hosting/reservations/\r\n" +
	" details/HMABC\\nPhone: 1234\r\n" +
	"STATUS:CONFIRMED\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART;TZID=Europe/Rome:20250610T150000\r\n" +
	"DTEND;TZID=Europe/Rome:20250612T110000\r\n" +
	"UID:vrbo-77\r\n" +
	"SUMMARY:John\\, Jr. (Not available)\r\n" +
	"CATEGORIES:VRBO,Holiday\\, Family\r\n" +
	"STATUS:TENTATIVE\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:no-dates\r\n" +
	"SUMMARY:Broken\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParse(t *testing.T) {
	events, err := NewParser(0, 0).Parse(strings.NewReader(sampleFeed))
	require.NoError(t, err)
	require.Len(t, events, 2, "events without dates are dropped")

	first := events[0]
	assert.Equal(t, "1418fb94e984-abc@airbnb.com", first.UID)
	assert.Equal(t, "Reserved: Maria Rossi", first.Summary)
	assert.Equal(t, "Reservation URL: https://www.airbnb.com/hosting/reservations/details/HMABC\nPhone: 1234", first.Description)
	assert.Equal(t, "CONFIRMED", first.Status)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), first.Start)
	assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), first.End)

	second := events[1]
	assert.Equal(t, "John, Jr. (Not available)", second.Summary)
	assert.Equal(t, []string{"VRBO", "Holiday, Family"}, second.Categories)
	assert.Equal(t, "TENTATIVE", second.Status)
	rome, err := time.LoadLocation("Europe/Rome")
	if err == nil {
		assert.True(t, time.Date(2025, 6, 10, 15, 0, 0, 0, rome).Equal(second.Start))
	}
}

func TestParseDateTimeFormats(t *testing.T) {
	testCases := []struct {
		value, params string
		want          time.Time
	}{
		{"20250601T120000Z", "", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"20250601T120000", "", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"20250601", "VALUE=DATE", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-06-01", "", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"garbage", "", time.Time{}},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			assert.True(t, tc.want.Equal(parseDateTime(tc.value, tc.params)))
		})
	}
}

func TestFetchAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.ics":
			w.Header().Set("Content-Type", "text/calendar")
			fmt.Fprint(w, sampleFeed)
		case "/big.ics":
			fmt.Fprint(w, strings.Repeat("X", 4096))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	parser := NewParser(1024, time.Second)
	ctx := context.Background()

	events, err := parser.FetchAndParse(ctx, srv.URL+"/feed.ics")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = parser.FetchAndParse(ctx, srv.URL+"/big.ics")
	assert.ErrorIs(t, err, ErrFeedTooLarge)

	_, err = parser.FetchAndParse(ctx, srv.URL+"/missing.ics")
	assert.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewParser(0, 50*time.Millisecond).FetchAndParse(context.Background(), srv.URL)
	assert.Error(t, err)
}
