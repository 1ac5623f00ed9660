package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/storage/models"
)

// schema describes how a marketplace names its booking fields and which
// credentials it needs.
type schema struct {
	platform     models.Platform
	required     []string
	idField      string
	listingField string
	guestField   string
	startField   string
	endField     string
	fareField    string
	statusField  string
	dateLayout   string
	statuses     map[string]string
	urlPattern   string
}

//nolint:gochecknoglobals
var marketplaceSchemas = []schema{
	{
		platform:     models.PlatformAirbnb,
		required:     []string{"accessToken"},
		idField:      "confirmation_code",
		listingField: "listing_id",
		guestField:   "guest_name",
		startField:   "check_in",
		endField:     "check_out",
		fareField:    "payout",
		statusField:  "status",
		dateLayout:   "2006-01-02",
		statuses: map[string]string{
			"accepted":  models.BookingStatusConfirmed,
			"pending":   models.BookingStatusPending,
			"cancelled": models.BookingStatusCancelled,
		},
		urlPattern: "https://www.airbnb.com/rooms/%s",
	},
	{
		platform:     models.PlatformBookingCom,
		required:     []string{"username", "password", "hotelId"},
		idField:      "reservation_id",
		listingField: "room_id",
		guestField:   "booker_name",
		startField:   "arrival_date",
		endField:     "departure_date",
		fareField:    "total_price",
		statusField:  "reservation_status",
		dateLayout:   "2006-01-02",
		statuses: map[string]string{
			"ok":        models.BookingStatusConfirmed,
			"modified":  models.BookingStatusConfirmed,
			"cancelled": models.BookingStatusCancelled,
			"no_show":   models.BookingStatusCancelled,
		},
		urlPattern: "https://www.booking.com/hotel/%s.html",
	},
	{
		platform:     models.PlatformVRBO,
		required:     []string{"apiKey", "apiSecret"},
		idField:      "reservationId",
		listingField: "unitId",
		guestField:   "travelerName",
		startField:   "arrivalDate",
		endField:     "departureDate",
		fareField:    "totalAmount",
		statusField:  "reservationStatus",
		dateLayout:   "20060102",
		statuses: map[string]string{
			"BOOKED":    models.BookingStatusConfirmed,
			"TENTATIVE": models.BookingStatusPending,
			"CANCELLED": models.BookingStatusCancelled,
		},
		urlPattern: "https://www.vrbo.com/%s",
	},
	{
		platform:     models.PlatformExpedia,
		required:     []string{"apiKey", "apiSecret", "propertyId"},
		idField:      "itinerary_id",
		listingField: "property_id",
		guestField:   "primary_guest",
		startField:   "checkin",
		endField:     "checkout",
		fareField:    "amount",
		statusField:  "state",
		dateLayout:   "2006-01-02",
		statuses: map[string]string{
			"booked":    models.BookingStatusConfirmed,
			"pending":   models.BookingStatusPending,
			"cancelled": models.BookingStatusCancelled,
		},
		urlPattern: "https://www.expedia.com/h%s.Hotel-Information",
	},
}

// MockStore is the in-memory backend the marketplace adapters run against.
// Tests seed bookings and inject faults through it.
type MockStore struct {
	mu           sync.Mutex
	bookings     map[models.Platform][]NativeRecord
	listings     map[models.Platform]map[string]Listing
	availability map[models.Platform]map[string]map[string]bool
	faults       map[models.Platform]error
	rejected     map[models.Platform]string
	seq          int
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		bookings:     make(map[models.Platform][]NativeRecord),
		listings:     make(map[models.Platform]map[string]Listing),
		availability: make(map[models.Platform]map[string]map[string]bool),
		faults:       make(map[models.Platform]error),
		rejected:     make(map[models.Platform]string),
	}
}

// SeedBookings appends native records to a platform.
func (s *MockStore) SeedBookings(p models.Platform, records ...NativeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[p] = append(s.bookings[p], records...)
}

// ReplaceBookings swaps all of a platform's records.
func (s *MockStore) ReplaceBookings(p models.Platform, records ...NativeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[p] = append([]NativeRecord(nil), records...)
}

// SetFault makes every call to p fail with err. A nil err clears it.
func (s *MockStore) SetFault(p models.Platform, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, p)
		return
	}
	s.faults[p] = err
}

// RejectCredentials makes TestConnection on p report failure with message.
// An empty message clears it.
func (s *MockStore) RejectCredentials(p models.Platform, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.rejected, p)
		return
	}
	s.rejected[p] = message
}

// Availability returns the recorded availability of a listing's days.
func (s *MockStore) Availability(p models.Platform, listingID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for k, v := range s.availability[p][listingID] {
		out[k] = v
	}
	return out
}

// Listing returns a published listing.
func (s *MockStore) Listing(p models.Platform, listingID string) (Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[p][listingID]
	return l, ok
}

func (s *MockStore) fault(p models.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[p]
}

type mockAdapter struct {
	schema schema
	store  *MockStore
}

func mockFactory(sc schema, store *MockStore) Factory {
	return func(creds credential.Credentials) (Adapter, error) {
		if err := RequireCredentials(creds, sc.required...); err != nil {
			return nil, err
		}
		return &mockAdapter{schema: sc, store: store}, nil
	}
}

func (a *mockAdapter) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	if err := a.ready(ctx); err != nil {
		return nil, err
	}
	a.store.mu.Lock()
	msg, rejected := a.store.rejected[a.schema.platform]
	a.store.mu.Unlock()
	if rejected {
		return &ConnectionStatus{Success: false, Message: msg}, nil
	}
	return &ConnectionStatus{Success: true, Message: fmt.Sprintf("connected to %s", a.schema.platform)}, nil
}

func (a *mockAdapter) FetchBookings(ctx context.Context, opts FetchOptions) ([]NativeRecord, error) {
	if err := a.ready(ctx); err != nil {
		return nil, err
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	var out []NativeRecord
	for _, rec := range a.store.bookings[a.schema.platform] {
		if opts.ListingRef != "" && fmt.Sprint(rec[a.schema.listingField]) != opts.ListingRef {
			continue
		}
		if !a.inWindow(rec, opts) {
			continue
		}
		copied := make(NativeRecord, len(rec))
		for k, v := range rec {
			copied[k] = v
		}
		out = append(out, copied)
	}
	return out, nil
}

// inWindow keeps records whose stay overlaps the requested window. Records
// with unparseable dates are kept so TransformBooking can report them.
func (a *mockAdapter) inWindow(rec NativeRecord, opts FetchOptions) bool {
	start, errStart := time.Parse(a.schema.dateLayout, fmt.Sprint(rec[a.schema.startField]))
	end, errEnd := time.Parse(a.schema.dateLayout, fmt.Sprint(rec[a.schema.endField]))
	if errStart != nil || errEnd != nil {
		return true
	}
	if opts.End != nil && !start.Before(*opts.End) {
		return false
	}
	if opts.Start != nil && !end.After(*opts.Start) {
		return false
	}
	return true
}

func (a *mockAdapter) TransformBooking(rec NativeRecord) (NormalizedBooking, error) {
	sc := a.schema
	id := stringField(rec, sc.idField)
	if id == "" {
		return NormalizedBooking{}, fmt.Errorf("%s record missing %s", sc.platform, sc.idField)
	}

	start, err := time.Parse(sc.dateLayout, stringField(rec, sc.startField))
	if err != nil {
		return NormalizedBooking{}, fmt.Errorf("%s record %s: bad %s: %w", sc.platform, id, sc.startField, err)
	}
	end, err := time.Parse(sc.dateLayout, stringField(rec, sc.endField))
	if err != nil {
		return NormalizedBooking{}, fmt.Errorf("%s record %s: bad %s: %w", sc.platform, id, sc.endField, err)
	}

	fare, err := numberField(rec, sc.fareField)
	if err != nil {
		return NormalizedBooking{}, fmt.Errorf("%s record %s: %w", sc.platform, id, err)
	}

	rawStatus := stringField(rec, sc.statusField)
	status, ok := sc.statuses[rawStatus]
	if !ok {
		return NormalizedBooking{}, fmt.Errorf("%s record %s: unknown status %q", sc.platform, id, rawStatus)
	}

	return NormalizedBooking{
		ExternalID: id,
		ListingRef: stringField(rec, sc.listingField),
		GuestName:  strings.TrimSpace(stringField(rec, sc.guestField)),
		StartDate:  start,
		EndDate:    end,
		TotalFare:  fare,
		Status:     status,
	}, nil
}

func (a *mockAdapter) PublishListing(ctx context.Context, listing Listing) (*PublishResult, error) {
	if err := a.ready(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(listing.Name) == "" {
		return &PublishResult{Success: false, Error: "listing name is required"}, nil
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.seq++
	id := fmt.Sprintf("%s-%d", a.schema.platform, a.store.seq)
	if a.store.listings[a.schema.platform] == nil {
		a.store.listings[a.schema.platform] = make(map[string]Listing)
	}
	a.store.listings[a.schema.platform][id] = listing

	return &PublishResult{Success: true, ListingID: id, URL: fmt.Sprintf(a.schema.urlPattern, id)}, nil
}

func (a *mockAdapter) UpdateListing(ctx context.Context, listingID string, listing Listing) error {
	if err := a.ready(ctx); err != nil {
		return err
	}
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if _, ok := a.store.listings[a.schema.platform][listingID]; !ok {
		return fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	a.store.listings[a.schema.platform][listingID] = listing
	return nil
}

func (a *mockAdapter) DeleteListing(ctx context.Context, listingID string) error {
	if err := a.ready(ctx); err != nil {
		return err
	}
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if _, ok := a.store.listings[a.schema.platform][listingID]; !ok {
		return fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	delete(a.store.listings[a.schema.platform], listingID)
	return nil
}

func (a *mockAdapter) UpdateAvailability(ctx context.Context, listingID string, dates []time.Time, available bool) error {
	if err := a.ready(ctx); err != nil {
		return err
	}
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if _, ok := a.store.listings[a.schema.platform][listingID]; !ok {
		return fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	if a.store.availability[a.schema.platform] == nil {
		a.store.availability[a.schema.platform] = make(map[string]map[string]bool)
	}
	days := a.store.availability[a.schema.platform][listingID]
	if days == nil {
		days = make(map[string]bool)
		a.store.availability[a.schema.platform][listingID] = days
	}
	for _, d := range dates {
		days[d.UTC().Format("2006-01-02")] = available
	}
	return nil
}

func (a *mockAdapter) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.store.fault(a.schema.platform)
}

func stringField(rec NativeRecord, name string) string {
	switch v := rec[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func numberField(rec NativeRecord, name string) (float64, error) {
	switch v := rec[name].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s: %w", name, err)
		}
		return f, nil
	default:
		return 0, errors.New("bad " + name)
	}
}
