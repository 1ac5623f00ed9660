package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Sync trigger constants
const (
	TriggerManual    = "manual"
	TriggerAutomatic = "automatic"
	TriggerScheduled = "scheduled"
)

// Sync outcome constants
const (
	OutcomeSuccess        = "success"
	OutcomePartialSuccess = "partial_success"
	OutcomeFailed         = "failed"
)

// SyncLog is the immutable record of one sync attempt.
type SyncLog struct {
	ID             string        `json:"id" db:"id"`
	TenantID       string        `json:"tenant_id" db:"tenant_id"`
	IntegrationID  *string       `json:"integration_id,omitempty" db:"integration_id"`
	Platform       Platform      `json:"platform" db:"platform"`
	Trigger        string        `json:"trigger" db:"trigger_type"`
	Outcome        string        `json:"outcome" db:"outcome"`
	NewCount       int           `json:"new_count" db:"new_count"`
	UpdatedCount   int           `json:"updated_count" db:"updated_count"`
	SkippedCount   int           `json:"skipped_count" db:"skipped_count"`
	ErrorCount     int           `json:"error_count" db:"error_count"`
	Errors         SyncErrorList `json:"errors" db:"errors"`
	Message        string        `json:"message" db:"message"`
	DurationMillis int64         `json:"duration_ms" db:"duration_ms"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// SyncError describes one failed record within a run.
type SyncError struct {
	Message   string    `json:"message"`
	RecordID  string    `json:"record_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncErrorList is stored as a JSON array.
type SyncErrorList []SyncError

// Value implements driver.Valuer.
func (l SyncErrorList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *SyncErrorList) Scan(value any) error {
	return scanJSON(value, l)
}
