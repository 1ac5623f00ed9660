// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Villa is a rentable property with its calendar configuration.
type Villa struct {
	ID         string    `json:"id" db:"id"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	Name       string    `json:"name" db:"name"`
	ICalURL    *string   `json:"ical_url,omitempty" db:"ical_url"`
	ICalSource string    `json:"ical_source" db:"ical_source"`
	FeedToken  string    `json:"-" db:"feed_token"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HasCalendarSource returns true if the villa imports an external iCal feed.
func (v *Villa) HasCalendarSource() bool {
	return v.ICalURL != nil && *v.ICalURL != ""
}

// VillaListing maps a marketplace listing to a villa.
type VillaListing struct {
	VillaID   string    `json:"villa_id" db:"villa_id"`
	Platform  Platform  `json:"platform" db:"platform"`
	ListingID string    `json:"listing_id" db:"listing_id"`
	URL       *string   `json:"url,omitempty" db:"url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BlockedDate is a single day an owner closed manually.
type BlockedDate struct {
	ID        string    `json:"id" db:"id"`
	VillaID   string    `json:"villa_id" db:"villa_id"`
	Date      time.Time `json:"date" db:"date"`
	Reason    *string   `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BlockedDateUIDPrefix prefixes the UID of exported blocked-date events.
const BlockedDateUIDPrefix = "blocked-"

// UID is the stable iCal UID for the blocked date.
func (b *BlockedDate) UID() string {
	return BlockedDateUIDPrefix + b.ID
}

// CalendarEvent represents a parsed event from an iCal feed.
type CalendarEvent struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Status      string    `json:"status,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
}
