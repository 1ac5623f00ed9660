package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFeedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed":
			w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		case "/export.ics", "/export.ical":
			w.Header().Set("Content-Type", "application/octet-stream")
		case "/get-only":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "text/calendar")
		case "/html":
			w.Header().Set("Content-Type", "text/html")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := srv.Client()

	for _, path := range []string{"/typed", "/export.ics", "/export.ical", "/get-only"} {
		assert.NoError(t, ValidateFeedURL(ctx, client, srv.URL+path), path)
	}

	for _, raw := range []string{srv.URL + "/html", srv.URL + "/missing.ics", "ftp://example.com/a.ics", "not a url", ""} {
		assert.ErrorIs(t, ValidateFeedURL(ctx, client, raw), ErrInvalidFeedURL, raw)
	}
}
