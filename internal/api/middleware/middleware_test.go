package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingAssignsRequestID(t *testing.T) {
	var seen string
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", seen)
}

func TestAccessLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   zerolog.Level
	}{
		{"/api/sync", http.StatusOK, zerolog.InfoLevel},
		{"/api/health", http.StatusOK, zerolog.DebugLevel},
		{"/metrics", http.StatusOK, zerolog.DebugLevel},
		{"/api/health", http.StatusServiceUnavailable, zerolog.ErrorLevel},
		{"/api/sync", http.StatusConflict, zerolog.WarnLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, accessLevel(tt.path, tt.status), "%s %d", tt.path, tt.status)
	}
}

func TestErrorRecovery(t *testing.T) {
	h := ErrorRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ErrInternalError, resp.Error)
}

func TestWriteErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetails(rec, http.StatusBadRequest, ErrValidation, "bad input", map[string]string{"name": "required"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"validation_error","message":"bad input","details":{"name":"required"}}`, rec.Body.String())
}
