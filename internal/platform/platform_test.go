package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/storage/models"
)

func date(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDefaultRegistryCoversEveryPlatform(t *testing.T) {
	r := NewDefaultRegistry(NewMockStore())
	for _, p := range models.Platforms {
		assert.True(t, r.Supports(p), p)
	}
	assert.Len(t, r.Platforms(), len(models.Platforms))

	_, err := r.New("myspace", credential.Credentials{})
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestRegistryRequiresCredentials(t *testing.T) {
	r := NewDefaultRegistry(NewMockStore())

	tests := []struct {
		platform models.Platform
		creds    credential.Credentials
		wantErr  bool
	}{
		{models.PlatformAirbnb, credential.Credentials{AccessToken: "tok"}, false},
		{models.PlatformAirbnb, credential.Credentials{APIKey: "k"}, true},
		{models.PlatformBookingCom, credential.Credentials{Username: "u", Password: "p", HotelID: "h"}, false},
		{models.PlatformBookingCom, credential.Credentials{Username: "u", Password: "p"}, true},
		{models.PlatformVRBO, credential.Credentials{APIKey: "k", APISecret: "s"}, false},
		{models.PlatformExpedia, credential.Credentials{APIKey: "k", APISecret: "s"}, true},
		{models.PlatformOther, credential.Credentials{AccessToken: "t"}, true},
		{models.PlatformOther, credential.Credentials{APIKey: "k", CustomFields: map[string]string{"baseUrl": "https://cm.example.com"}}, false},
	}

	for _, tt := range tests {
		_, err := r.New(tt.platform, tt.creds)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrMissingCredential, tt.platform)
		} else {
			assert.NoError(t, err, tt.platform)
		}
	}
}

func TestMockAdapterFetchAndTransform(t *testing.T) {
	store := NewMockStore()
	store.SeedBookings(models.PlatformBookingCom,
		NativeRecord{"reservation_id": "BC-1", "room_id": "R1", "booker_name": " Ana ", "arrival_date": "2026-06-01", "departure_date": "2026-06-05", "total_price": "812.50", "reservation_status": "ok"},
		NativeRecord{"reservation_id": "BC-2", "room_id": "R2", "booker_name": "Ben", "arrival_date": "2026-07-01", "departure_date": "2026-07-03", "total_price": 300, "reservation_status": "cancelled"},
		NativeRecord{"reservation_id": "BC-3", "room_id": "R1", "booker_name": "Cy", "arrival_date": "2026-09-01", "departure_date": "2026-09-03", "total_price": 1, "reservation_status": "ok"},
	)

	adapter, err := NewDefaultRegistry(store).New(models.PlatformBookingCom, credential.Credentials{Username: "u", Password: "p", HotelID: "h"})
	require.NoError(t, err)

	ctx := context.Background()
	end := date(8, 1)
	records, err := adapter.FetchBookings(ctx, FetchOptions{ListingRef: "R1", End: &end})
	require.NoError(t, err)
	require.Len(t, records, 1)

	nb, err := adapter.TransformBooking(records[0])
	require.NoError(t, err)
	assert.Equal(t, NormalizedBooking{
		ExternalID: "BC-1",
		ListingRef: "R1",
		GuestName:  "Ana",
		StartDate:  date(6, 1),
		EndDate:    date(6, 5),
		TotalFare:  812.5,
		Status:     models.BookingStatusConfirmed,
	}, nb)

	all, err := adapter.FetchBookings(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	cancelled, err := adapter.TransformBooking(all[1])
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
}

func TestMockAdapterTransformRejectsBadRecords(t *testing.T) {
	adapter, err := NewDefaultRegistry(NewMockStore()).New(models.PlatformVRBO, credential.Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	good := NativeRecord{"reservationId": "V1", "unitId": "U", "travelerName": "Zoe", "arrivalDate": "20260601", "departureDate": "20260604", "totalAmount": 10.0, "reservationStatus": "BOOKED"}
	_, err = adapter.TransformBooking(good)
	require.NoError(t, err)

	bad := []NativeRecord{
		{"unitId": "U", "arrivalDate": "20260601", "departureDate": "20260604", "reservationStatus": "BOOKED"},
		{"reservationId": "V2", "arrivalDate": "2026-06-01", "departureDate": "20260604", "reservationStatus": "BOOKED"},
		{"reservationId": "V3", "arrivalDate": "20260601", "departureDate": "20260604", "reservationStatus": "LOST"},
		{"reservationId": "V4", "arrivalDate": "20260601", "departureDate": "20260604", "totalAmount": "lots", "reservationStatus": "BOOKED"},
	}
	for _, rec := range bad {
		_, err := adapter.TransformBooking(rec)
		assert.Error(t, err, rec)
	}
}

func TestMockAdapterFaultsAndRejection(t *testing.T) {
	store := NewMockStore()
	adapter, err := NewDefaultRegistry(store).New(models.PlatformAirbnb, credential.Credentials{AccessToken: "tok"})
	require.NoError(t, err)
	ctx := context.Background()

	status, err := adapter.TestConnection(ctx)
	require.NoError(t, err)
	assert.True(t, status.Success)

	store.RejectCredentials(models.PlatformAirbnb, "token expired")
	status, err = adapter.TestConnection(ctx)
	require.NoError(t, err)
	assert.False(t, status.Success)
	assert.Equal(t, "token expired", status.Message)

	outage := errors.New("503 upstream")
	store.SetFault(models.PlatformAirbnb, outage)
	_, err = adapter.FetchBookings(ctx, FetchOptions{})
	assert.ErrorIs(t, err, outage)

	store.SetFault(models.PlatformAirbnb, nil)
	_, err = adapter.FetchBookings(ctx, FetchOptions{})
	assert.NoError(t, err)
}

func TestMockAdapterListings(t *testing.T) {
	store := NewMockStore()
	adapter, err := NewDefaultRegistry(store).New(models.PlatformExpedia, credential.Credentials{APIKey: "k", APISecret: "s", PropertyID: "p"})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := adapter.PublishListing(ctx, Listing{VillaID: "v1", Name: "Villa Mare"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.URL, res.ListingID)

	empty, err := adapter.PublishListing(ctx, Listing{VillaID: "v1"})
	require.NoError(t, err)
	assert.False(t, empty.Success)

	require.NoError(t, adapter.UpdateListing(ctx, res.ListingID, Listing{VillaID: "v1", Name: "Villa Mare II"}))
	l, ok := store.Listing(models.PlatformExpedia, res.ListingID)
	require.True(t, ok)
	assert.Equal(t, "Villa Mare II", l.Name)

	require.NoError(t, adapter.UpdateAvailability(ctx, res.ListingID, []time.Time{date(6, 1), date(6, 2)}, false))
	assert.Equal(t, map[string]bool{"2026-06-01": false, "2026-06-02": false}, store.Availability(models.PlatformExpedia, res.ListingID))

	require.NoError(t, adapter.DeleteListing(ctx, res.ListingID))
	assert.ErrorIs(t, adapter.DeleteListing(ctx, res.ListingID), ErrListingNotFound)
	assert.ErrorIs(t, adapter.UpdateAvailability(ctx, "nope", nil, true), ErrListingNotFound)
}

func TestChannelManagerAdapter(t *testing.T) {
	var gotAuth, gotQuery string
	var gotAvailability cmAvailability

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/ping":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/bookings":
			gotQuery = r.URL.RawQuery
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "CM-1", "listing_id": "L1", "guest": "Ana", "start": "2026-06-01", "end": "2026-06-04", "total": 420.0, "status": "confirmed"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/listings":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(cmListing{ID: "L9", URL: "https://cm.example.com/l/L9"})
		case r.Method == http.MethodPut && r.URL.Path == "/listings/L9/availability":
			_ = json.NewDecoder(r.Body).Decode(&gotAvailability)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/listings/L9":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	adapter, err := NewChannelManagerAdapter(credential.Credentials{
		AccessToken:  "secret",
		CustomFields: map[string]string{"baseUrl": srv.URL + "/"},
	})
	require.NoError(t, err)
	ctx := context.Background()

	status, err := adapter.TestConnection(ctx)
	require.NoError(t, err)
	assert.True(t, status.Success)
	assert.Equal(t, "Bearer secret", gotAuth)

	start, end := date(6, 1), date(7, 1)
	records, err := adapter.FetchBookings(ctx, FetchOptions{ListingRef: "L1", Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "end=2026-07-01&listing=L1&start=2026-06-01", gotQuery)

	nb, err := adapter.TransformBooking(records[0])
	require.NoError(t, err)
	assert.Equal(t, "CM-1", nb.ExternalID)
	assert.Equal(t, 420.0, nb.TotalFare)
	assert.Equal(t, date(6, 4), nb.EndDate)

	res, err := adapter.PublishListing(ctx, Listing{VillaID: "v1", Name: "Villa Mare"})
	require.NoError(t, err)
	assert.Equal(t, &PublishResult{Success: true, ListingID: "L9", URL: "https://cm.example.com/l/L9"}, res)

	require.NoError(t, adapter.UpdateAvailability(ctx, "L9", []time.Time{date(6, 10)}, true))
	assert.Equal(t, cmAvailability{Dates: []string{"2026-06-10"}, Available: true}, gotAvailability)

	require.NoError(t, adapter.DeleteListing(ctx, "L9"))
	assert.ErrorIs(t, adapter.DeleteListing(ctx, "L404"), ErrListingNotFound)
}

func TestChannelManagerRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter, err := NewChannelManagerAdapter(credential.Credentials{APIKey: "k", CustomFields: map[string]string{"baseUrl": srv.URL}})
	require.NoError(t, err)

	status, err := adapter.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Success)

	_, err = adapter.FetchBookings(context.Background(), FetchOptions{})
	assert.Error(t, err)
}
