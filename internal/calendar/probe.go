package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidFeedURL is returned when a calendar source fails validation.
var ErrInvalidFeedURL = errors.New("calendar: invalid feed URL")

const probeTimeout = 5 * time.Second

// ValidateFeedURL checks that rawURL is an http(s) URL that responds and
// looks like a calendar, by content type or by an .ics/.ical path.
func ValidateFeedURL(ctx context.Context, client *http.Client, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidFeedURL, rawURL)
	}
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}

	resp, err := probe(ctx, client, http.MethodHead, rawURL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp, err = probe(ctx, client, http.MethodGet, rawURL)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeedURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrInvalidFeedURL, resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	path := strings.ToLower(u.Path)
	if strings.Contains(contentType, "calendar") || strings.HasSuffix(path, ".ics") || strings.HasSuffix(path, ".ical") {
		return nil
	}
	return fmt.Errorf("%w: not a calendar (content type %q)", ErrInvalidFeedURL, contentType)
}

func probe(ctx context.Context, client *http.Client, method, rawURL string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}
