// Package platform defines the capability contract every marketplace client
// satisfies and the registry that selects one per integration.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownPlatform is returned when no adapter is registered for a platform.
	ErrUnknownPlatform = errors.New("platform: unknown platform")
	// ErrMissingCredential is returned when a required credential field is empty.
	ErrMissingCredential = errors.New("platform: missing required credential")
	// ErrListingNotFound is returned for operations on an unknown listing.
	ErrListingNotFound = errors.New("platform: listing not found")
)

// ConnectionStatus is the outcome of a connectivity check.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FetchOptions narrows a booking fetch. Zero values do not filter.
type FetchOptions struct {
	ListingRef string
	Start      *time.Time
	End        *time.Time
}

// NativeRecord is a booking in the platform's own shape.
type NativeRecord map[string]any

// NormalizedBooking is a platform booking mapped onto the local model.
type NormalizedBooking struct {
	ExternalID string    `json:"external_id"`
	ListingRef string    `json:"listing_ref,omitempty"`
	GuestName  string    `json:"guest_name"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	TotalFare  float64   `json:"total_fare"`
	Status     string    `json:"status"`
}

// Listing is the villa data pushed to a marketplace.
type Listing struct {
	VillaID     string `json:"villa_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PublishResult is the outcome of publishing a listing.
type PublishResult struct {
	Success   bool   `json:"success"`
	ListingID string `json:"listing_id,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Adapter is the capability set every marketplace client implements.
// Platform-specific logic stays behind this interface.
type Adapter interface {
	TestConnection(ctx context.Context) (*ConnectionStatus, error)
	FetchBookings(ctx context.Context, opts FetchOptions) ([]NativeRecord, error)
	TransformBooking(record NativeRecord) (NormalizedBooking, error)
	PublishListing(ctx context.Context, listing Listing) (*PublishResult, error)
	UpdateListing(ctx context.Context, listingID string, listing Listing) error
	DeleteListing(ctx context.Context, listingID string) error
	UpdateAvailability(ctx context.Context, listingID string, dates []time.Time, available bool) error
}
