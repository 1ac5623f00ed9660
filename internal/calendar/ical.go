// Package calendar provides iCal parsing, export and feed import for villa calendars.
package calendar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/villa-sync/backend/internal/storage/models"
)

const (
	// DefaultMaxFeedBytes bounds a fetched feed.
	DefaultMaxFeedBytes int64 = 10 << 20
	// DefaultFetchTimeout bounds a feed download.
	DefaultFetchTimeout = 30 * time.Second

	maxLineBytes = 1 << 20
)

// ErrFeedTooLarge is returned when a feed exceeds the configured size limit.
var ErrFeedTooLarge = errors.New("calendar: feed exceeds size limit")

// Parser parses iCal/ICS calendar feeds.
type Parser struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewParser creates a new iCal parser with bounded fetch size and timeout.
// Zero values select the defaults.
func NewParser(maxBytes int64, timeout time.Duration) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFeedBytes
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Parser{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}
}

// FetchAndParse downloads and parses an iCal feed from a URL.
func (p *Parser) FetchAndParse(ctx context.Context, url string) ([]models.CalendarEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, */*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > p.maxBytes {
		return nil, ErrFeedTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}
	if int64(len(body)) > p.maxBytes {
		return nil, ErrFeedTooLarge
	}

	return p.Parse(strings.NewReader(string(body)))
}

// Parse reads and parses iCal data from a reader. Events without a start or
// end are dropped.
func (p *Parser) Parse(r io.Reader) ([]models.CalendarEvent, error) {
	var events []models.CalendarEvent
	var currentEvent *models.CalendarEvent
	var currentField, currentParams string
	var multilineValue strings.Builder

	flush := func() {
		if currentField != "" && currentEvent != nil {
			setEventField(currentEvent, currentField, currentParams, multilineValue.String())
		}
		currentField = ""
		currentParams = ""
		multilineValue.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		// folded continuation line
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if currentField != "" {
				multilineValue.WriteString(line[1:])
			}
			continue
		}

		flush()

		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}

		field := line[:colonIdx]
		value := line[colonIdx+1:]
		params := ""

		// property parameters, e.g. DTSTART;VALUE=DATE:20231215
		if semicolonIdx := strings.Index(field, ";"); semicolonIdx != -1 {
			params = field[semicolonIdx+1:]
			field = field[:semicolonIdx]
		}
		field = strings.ToUpper(field)

		switch field {
		case "BEGIN":
			if strings.EqualFold(value, "VEVENT") {
				currentEvent = &models.CalendarEvent{}
			}
		case "END":
			if strings.EqualFold(value, "VEVENT") && currentEvent != nil {
				if !currentEvent.Start.IsZero() && !currentEvent.End.IsZero() {
					events = append(events, *currentEvent)
				}
				currentEvent = nil
			}
		case "UID", "SUMMARY", "DESCRIPTION", "LOCATION", "DTSTART", "DTEND", "STATUS", "CATEGORIES":
			if currentEvent != nil {
				currentField = field
				currentParams = params
				multilineValue.WriteString(value)
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}

	return events, nil
}

func setEventField(event *models.CalendarEvent, field, params, value string) {
	switch field {
	case "UID":
		event.UID = strings.TrimSpace(unescapeText(value))
	case "SUMMARY":
		event.Summary = unescapeText(value)
	case "DESCRIPTION":
		event.Description = unescapeText(value)
	case "LOCATION":
		event.Location = unescapeText(value)
	case "STATUS":
		event.Status = strings.ToUpper(strings.TrimSpace(value))
	case "CATEGORIES":
		for _, c := range splitEscaped(value) {
			if c = strings.TrimSpace(unescapeText(c)); c != "" {
				event.Categories = append(event.Categories, c)
			}
		}
	case "DTSTART":
		event.Start = parseDateTime(value, params)
	case "DTEND":
		event.End = parseDateTime(value, params)
	}
}

func unescapeText(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i+1 == len(value) {
			b.WriteByte(c)
			continue
		}
		i++
		switch value[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

// splitEscaped splits on commas not preceded by a backslash.
func splitEscaped(value string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' {
			i++
			continue
		}
		if value[i] == ',' {
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	return append(parts, value[start:])
}

// parseDateTime parses an iCal date/time value. Floating times are read in
// the TZID parameter's zone when it names a known location, else UTC.
func parseDateTime(value, params string) time.Time {
	value = strings.TrimSpace(value)
	loc := time.UTC
	for _, param := range strings.Split(params, ";") {
		name, arg, ok := strings.Cut(param, "=")
		if ok && strings.EqualFold(name, "TZID") {
			if l, err := time.LoadLocation(strings.Trim(arg, `"`)); err == nil {
				loc = l
			}
		}
	}

	formats := []string{
		"20060102T150405Z",
		"20060102T150405",
		"20060102",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.ParseInLocation(format, value, loc); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}
