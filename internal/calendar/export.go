package calendar

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/villa-sync/backend/internal/storage/models"
)

const (
	prodID        = "-//Villa Sync//Calendar Export//EN"
	dateLayout    = "20060102"
	stampLayout   = "20060102T150405Z"
	maxLineOctets = 75
)

// ContentType is the media type of exported documents.
const ContentType = "text/calendar; charset=utf-8"

type exportEvent struct {
	uid         string
	start, end  time.Time
	stamp       time.Time
	summary     string
	description string
}

// Export renders the villa's Confirmed and Active bookings plus its blocked
// days as an iCal document. Output is byte-stable for identical input.
func Export(villa *models.Villa, bookings []models.Booking, blocked []models.BlockedDate) []byte {
	events := make([]exportEvent, 0, len(bookings)+len(blocked))
	for _, b := range bookings {
		if !b.IsBlocking() {
			continue
		}
		events = append(events, exportEvent{
			uid:         b.CalendarUID(),
			start:       b.StartDate,
			end:         b.EndDate,
			stamp:       b.UpdatedAt,
			summary:     "Reserved: " + b.GuestName,
			description: "Source: " + b.Source,
		})
	}
	for _, d := range blocked {
		events = append(events, exportEvent{
			uid:         d.UID(),
			start:       d.Date,
			end:         d.Date.AddDate(0, 0, 1),
			stamp:       d.CreatedAt,
			summary:     "Not available",
			description: models.Deref(d.Reason),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].start.Equal(events[j].start) {
			return events[i].start.Before(events[j].start)
		}
		return events[i].uid < events[j].uid
	})

	var buf bytes.Buffer
	writeLine(&buf, "BEGIN:VCALENDAR")
	writeLine(&buf, "VERSION:2.0")
	writeLine(&buf, "PRODID:"+prodID)
	writeLine(&buf, "CALSCALE:GREGORIAN")
	writeLine(&buf, "METHOD:PUBLISH")
	if villa != nil {
		writeLine(&buf, "X-WR-CALNAME:"+escapeText(villa.Name))
	}

	for _, e := range events {
		writeLine(&buf, "BEGIN:VEVENT")
		writeLine(&buf, "UID:"+escapeText(e.uid))
		writeLine(&buf, "DTSTAMP:"+e.stamp.UTC().Format(stampLayout))
		writeLine(&buf, "DTSTART;VALUE=DATE:"+e.start.UTC().Format(dateLayout))
		writeLine(&buf, "DTEND;VALUE=DATE:"+e.end.UTC().Format(dateLayout))
		writeLine(&buf, "SUMMARY:"+escapeText(e.summary))
		if e.description != "" {
			writeLine(&buf, "DESCRIPTION:"+escapeText(e.description))
		}
		writeLine(&buf, "STATUS:CONFIRMED")
		writeLine(&buf, "TRANSP:OPAQUE")
		writeLine(&buf, "END:VEVENT")
	}

	writeLine(&buf, "END:VCALENDAR")
	return buf.Bytes()
}

// writeLine emits a content line folded at 75 octets, never splitting a
// UTF-8 sequence.
func writeLine(buf *bytes.Buffer, line string) {
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(line[cut]) {
			cut--
		}
		buf.WriteString(line[:cut])
		buf.WriteString("\r\n ")
		line = line[cut:]
		// continuation lines carry a leading space
		limit = maxLineOctets - 1
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)
	return r.Replace(s)
}
