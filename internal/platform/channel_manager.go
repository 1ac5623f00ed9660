package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/storage/models"
)

const channelManagerTimeout = 30 * time.Second

// ChannelManagerClient talks to a generic channel-manager REST API. It serves
// the "other" platform, configured through the baseUrl custom field.
type ChannelManagerClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewChannelManagerAdapter builds a client from credentials. baseUrl is
// required, along with either accessToken or apiKey.
func NewChannelManagerAdapter(creds credential.Credentials) (Adapter, error) {
	if err := RequireCredentials(creds, "baseUrl"); err != nil {
		return nil, err
	}
	token := creds.AccessToken
	if token == "" {
		token = creds.APIKey
	}
	if token == "" {
		return nil, fmt.Errorf("%w: [accessToken or apiKey]", ErrMissingCredential)
	}

	base := strings.TrimRight(creds.Get("baseUrl"), "/")
	if u, err := url.Parse(base); err != nil || u.Host == "" {
		return nil, fmt.Errorf("channel manager: invalid baseUrl %q", base)
	}

	return &ChannelManagerClient{
		baseURL:    base,
		token:      token,
		httpClient: &http.Client{Timeout: channelManagerTimeout},
	}, nil
}

type cmBooking struct {
	ID        string  `json:"id"`
	ListingID string  `json:"listing_id"`
	Guest     string  `json:"guest"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Total     float64 `json:"total"`
	Status    string  `json:"status"`
}

type cmListing struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type cmAvailability struct {
	Dates     []string `json:"dates"`
	Available bool     `json:"available"`
}

// TestConnection pings the API. Transport failures are errors; a rejected
// token is a failed status.
func (c *ChannelManagerClient) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return &ConnectionStatus{Success: true, Message: "connected to channel manager"}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ConnectionStatus{Success: false, Message: fmt.Sprintf("credentials rejected (status %d)", resp.StatusCode)}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}
}

// FetchBookings lists bookings, narrowed by listing and date window.
func (c *ChannelManagerClient) FetchBookings(ctx context.Context, opts FetchOptions) ([]NativeRecord, error) {
	q := url.Values{}
	if opts.ListingRef != "" {
		q.Set("listing", opts.ListingRef)
	}
	if opts.Start != nil {
		q.Set("start", opts.Start.UTC().Format("2006-01-02"))
	}
	if opts.End != nil {
		q.Set("end", opts.End.UTC().Format("2006-01-02"))
	}
	path := "/bookings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var records []NativeRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// TransformBooking maps the channel manager's booking shape. Its statuses
// already use the local vocabulary.
func (c *ChannelManagerClient) TransformBooking(rec NativeRecord) (NormalizedBooking, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return NormalizedBooking{}, fmt.Errorf("encoding record: %w", err)
	}
	var b cmBooking
	if err := json.Unmarshal(raw, &b); err != nil {
		return NormalizedBooking{}, fmt.Errorf("decoding record: %w", err)
	}
	if b.ID == "" {
		return NormalizedBooking{}, fmt.Errorf("channel manager record missing id")
	}

	start, err := time.Parse("2006-01-02", b.Start)
	if err != nil {
		return NormalizedBooking{}, fmt.Errorf("channel manager record %s: bad start: %w", b.ID, err)
	}
	end, err := time.Parse("2006-01-02", b.End)
	if err != nil {
		return NormalizedBooking{}, fmt.Errorf("channel manager record %s: bad end: %w", b.ID, err)
	}

	status := strings.ToLower(b.Status)
	switch status {
	case models.BookingStatusConfirmed, models.BookingStatusPending, models.BookingStatusCancelled:
	case "":
		status = models.BookingStatusConfirmed
	default:
		return NormalizedBooking{}, fmt.Errorf("channel manager record %s: unknown status %q", b.ID, b.Status)
	}

	return NormalizedBooking{
		ExternalID: b.ID,
		ListingRef: b.ListingID,
		GuestName:  strings.TrimSpace(b.Guest),
		StartDate:  start,
		EndDate:    end,
		TotalFare:  b.Total,
		Status:     status,
	}, nil
}

// PublishListing creates a listing.
func (c *ChannelManagerClient) PublishListing(ctx context.Context, listing Listing) (*PublishResult, error) {
	var created cmListing
	if err := c.do(ctx, http.MethodPost, "/listings", listing, &created); err != nil {
		return &PublishResult{Success: false, Error: err.Error()}, nil
	}
	return &PublishResult{Success: true, ListingID: created.ID, URL: created.URL}, nil
}

// UpdateListing replaces a listing's content.
func (c *ChannelManagerClient) UpdateListing(ctx context.Context, listingID string, listing Listing) error {
	return c.do(ctx, http.MethodPut, "/listings/"+url.PathEscape(listingID), listing, nil)
}

// DeleteListing removes a listing.
func (c *ChannelManagerClient) DeleteListing(ctx context.Context, listingID string) error {
	return c.do(ctx, http.MethodDelete, "/listings/"+url.PathEscape(listingID), nil, nil)
}

// UpdateAvailability opens or closes days on a listing.
func (c *ChannelManagerClient) UpdateAvailability(ctx context.Context, listingID string, dates []time.Time, available bool) error {
	payload := cmAvailability{Available: available, Dates: make([]string, 0, len(dates))}
	for _, d := range dates {
		payload.Dates = append(payload.Dates, d.UTC().Format("2006-01-02"))
	}
	return c.do(ctx, http.MethodPut, "/listings/"+url.PathEscape(listingID)+"/availability", payload, nil)
}

// do sends a JSON request and decodes the response into out when non-nil.
func (c *ChannelManagerClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/listings/") {
		return fmt.Errorf("%w: %s", ErrListingNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// newRequest creates a new HTTP request with authentication.
func (c *ChannelManagerClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return req, nil
}
