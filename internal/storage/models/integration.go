package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/villa-sync/backend/internal/credential"
)

// Platform identifies an external marketplace.
type Platform string

const (
	PlatformAirbnb     Platform = "airbnb"
	PlatformBookingCom Platform = "booking_com"
	PlatformVRBO       Platform = "vrbo"
	PlatformExpedia    Platform = "expedia"
	PlatformOther      Platform = "other"
)

// Platforms lists every supported marketplace.
//
//nolint:gochecknoglobals
var Platforms = []Platform{PlatformAirbnb, PlatformBookingCom, PlatformVRBO, PlatformExpedia, PlatformOther}

// Valid returns true for a known platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Integration status constants
const (
	IntegrationStatusPending  = "pending"
	IntegrationStatusActive   = "active"
	IntegrationStatusInactive = "inactive"
	IntegrationStatusError    = "error"
)

// Health status constants
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// Integration is one tenant's connection to a marketplace.
type Integration struct {
	ID                  string            `json:"id" db:"id"`
	TenantID            string            `json:"tenant_id" db:"tenant_id"`
	VillaID             *string           `json:"villa_id,omitempty" db:"villa_id"`
	Platform            Platform          `json:"platform" db:"platform"`
	Credentials         credential.Bundle `json:"-" db:"credentials"`
	Status              string            `json:"status" db:"status"`
	AutoSync            bool              `json:"auto_sync" db:"auto_sync"`
	SyncFrequencyHours  float64           `json:"sync_frequency_hours" db:"sync_frequency_hours"`
	LastSyncAt          *time.Time        `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastSuccessAt       *time.Time        `json:"last_success_at,omitempty" db:"last_success_at"`
	LastSyncResult      *SyncSummary      `json:"last_sync_result,omitempty" db:"last_sync_result"`
	TotalSyncedBookings int               `json:"total_synced_bookings" db:"total_synced_bookings"`
	ConsecutiveFailures int               `json:"consecutive_failures" db:"consecutive_failures"`
	HealthStatus        string            `json:"health_status" db:"health_status"`
	HealthMessage       *string           `json:"health_message,omitempty" db:"health_message"`
	LastHealthCheckAt   *time.Time        `json:"last_health_check_at,omitempty" db:"last_health_check_at"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

// IsActive returns true if the integration takes part in scheduled syncs.
func (i *Integration) IsActive() bool {
	return i.Status == IntegrationStatusActive
}

// SyncSummary is the per-run count block stored on the integration.
type SyncSummary struct {
	NewBookings     int       `json:"new_bookings"`
	UpdatedBookings int       `json:"updated_bookings"`
	SkippedBookings int       `json:"skipped_bookings"`
	ErrorCount      int       `json:"error_count"`
	Outcome         string    `json:"outcome"`
	Message         string    `json:"message,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Value implements driver.Valuer.
func (s SyncSummary) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *SyncSummary) Scan(value any) error {
	return scanJSON(value, s)
}

func scanJSON(value any, dest any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("models: JSON column is not text")
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
