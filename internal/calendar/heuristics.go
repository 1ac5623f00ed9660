package calendar

import (
	"regexp"
	"strings"

	"github.com/villa-sync/backend/internal/storage/models"
)

// guestPatterns are tried in order; the first match wins.
//
//nolint:gochecknoglobals
var guestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*reserved:\s*(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*booked:\s*(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*guest:\s*(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*reservation:\s*(.+?)\s*$`),
	regexp.MustCompile(`(?i)^\s*(.+?)\s*\(not available\)\s*$`),
	regexp.MustCompile(`(?i)^\s*(.+?)\s*\(airbnb\)\s*$`),
	regexp.MustCompile(`(?i)^\s*(.+?)\s*\(booking\.com\)\s*$`),
}

// sourceKeywords maps lower-case keywords to source tags, checked in order.
//
//nolint:gochecknoglobals
var sourceKeywords = []struct {
	keyword string
	source  models.Platform
}{
	{"airbnb", models.PlatformAirbnb},
	{"booking.com", models.PlatformBookingCom},
	{"booking_com", models.PlatformBookingCom},
	{"vrbo", models.PlatformVRBO},
	{"homeaway", models.PlatformVRBO},
	{"expedia", models.PlatformExpedia},
}

// ExtractGuestName derives a guest name from an event summary. A summary
// matching no known pattern is returned verbatim.
func ExtractGuestName(summary string) string {
	for _, re := range guestPatterns {
		if m := re.FindStringSubmatch(summary); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return summary
}

// DetectSource sniffs the summary, description and categories for a
// marketplace name, falling back to defaultSource.
func DetectSource(event models.CalendarEvent, defaultSource string) string {
	haystack := strings.ToLower(event.Summary + "\n" + event.Description + "\n" + strings.Join(event.Categories, "\n"))
	for _, k := range sourceKeywords {
		if strings.Contains(haystack, k.keyword) {
			return string(k.source)
		}
	}
	return defaultSource
}

// MapStatus converts an iCal STATUS to a booking status. Unknown or missing
// values map to Confirmed.
func MapStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "TENTATIVE":
		return models.BookingStatusPending
	case "CANCELLED":
		return models.BookingStatusCancelled
	default:
		return models.BookingStatusConfirmed
	}
}
