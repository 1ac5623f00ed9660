package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/storage/models"
)

// IntegrationRepository provides data access for platform integrations.
type IntegrationRepository struct {
	BaseRepository
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *DB) *IntegrationRepository {
	return &IntegrationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const integrationColumns = `id, tenant_id, villa_id, platform, credentials, status, auto_sync,
	sync_frequency_hours, last_sync_at, last_success_at, last_sync_result, total_synced_bookings,
	consecutive_failures, health_status, health_message, last_health_check_at, created_at, updated_at`

// Create inserts a new integration. Credentials must already be sealed.
func (r *IntegrationRepository) Create(ctx context.Context, i *models.Integration) error {
	i.ID = GenerateID()
	i.CreatedAt = r.Now()
	i.UpdatedAt = i.CreatedAt
	if i.Status == "" {
		i.Status = models.IntegrationStatusPending
	}
	if i.HealthStatus == "" {
		i.HealthStatus = models.HealthUnknown
	}

	_, err := r.namedExec(ctx, `
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES (:id, :tenant_id, :villa_id, :platform, :credentials, :status, :auto_sync,
			:sync_frequency_hours, :last_sync_at, :last_success_at, :last_sync_result, :total_synced_bookings,
			:consecutive_failures, :health_status, :health_message, :last_health_check_at, :created_at, :updated_at)
	`, i)
	if err != nil {
		return fmt.Errorf("inserting integration: %w", err)
	}
	return nil
}

// GetByID retrieves an integration by its ID.
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	i := &models.Integration{}
	if err := r.get(ctx, i, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("querying integration: %w", err)
	}
	return i, nil
}

// List retrieves integrations, optionally restricted to one tenant.
func (r *IntegrationRepository) List(ctx context.Context, tenantID string) ([]models.Integration, error) {
	return r.selectMany(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE (? = '' OR tenant_id = ?)
		ORDER BY created_at, id
	`, tenantID, tenantID)
}

// ListActive retrieves all integrations in status active.
func (r *IntegrationRepository) ListActive(ctx context.Context) ([]models.Integration, error) {
	return r.selectMany(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE status = ?
		ORDER BY last_sync_at ASC NULLS FIRST, id
	`, models.IntegrationStatusActive)
}

// ListActiveAutoSync retrieves active integrations with auto-sync enabled,
// least recently synced first.
func (r *IntegrationRepository) ListActiveAutoSync(ctx context.Context) ([]models.Integration, error) {
	return r.selectMany(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE status = ? AND auto_sync = 1
		ORDER BY last_sync_at ASC NULLS FIRST, id
	`, models.IntegrationStatusActive)
}

// ListActiveMatching retrieves active integrations scoped to villaID and/or
// on platform. Empty arguments do not filter.
func (r *IntegrationRepository) ListActiveMatching(ctx context.Context, villaID string, platform models.Platform) ([]models.Integration, error) {
	return r.selectMany(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE status = ?
		  AND (? = '' OR villa_id = ?)
		  AND (? = '' OR platform = ?)
		ORDER BY last_sync_at ASC NULLS FIRST, id
	`, models.IntegrationStatusActive, villaID, villaID, platform, platform)
}

func (r *IntegrationRepository) selectMany(ctx context.Context, query string, args ...any) ([]models.Integration, error) {
	var integrations []models.Integration
	if err := r.DB().SelectContext(ctx, &integrations, query, args...); err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	return integrations, nil
}

// UpdateStatus changes the operational status.
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.exec(ctx, `UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?`, status, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating integration status: %w", err)
	}
	return requireAffected(res)
}

// UpdateCredentials replaces the sealed credential bundle.
func (r *IntegrationRepository) UpdateCredentials(ctx context.Context, id string, bundle credential.Bundle) error {
	res, err := r.exec(ctx, `UPDATE integrations SET credentials = ?, updated_at = ? WHERE id = ?`, bundle, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating integration credentials: %w", err)
	}
	return requireAffected(res)
}

// SaveSyncState persists the fields a sync run owns: last sync timestamps
// and result, counters, and status. Status is only written while the row
// still holds readStatus, the value the run started from, so a concurrent
// disable is never undone. i.Status is reloaded from the row.
func (r *IntegrationRepository) SaveSyncState(ctx context.Context, i *models.Integration, readStatus string) error {
	i.UpdatedAt = r.Now()
	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE integrations SET
				status = CASE WHEN status = ? THEN ? ELSE status END,
				last_sync_at = ?, last_success_at = ?, last_sync_result = ?,
				total_synced_bookings = ?, consecutive_failures = ?, updated_at = ?
			WHERE id = ?
		`, readStatus, i.Status, i.LastSyncAt, i.LastSuccessAt, i.LastSyncResult,
			i.TotalSyncedBookings, i.ConsecutiveFailures, i.UpdatedAt, i.ID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return tx.GetContext(ctx, &i.Status, `SELECT status FROM integrations WHERE id = ?`, i.ID)
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// UpdateHealth records the result of a connectivity probe. Status is untouched.
func (r *IntegrationRepository) UpdateHealth(ctx context.Context, id, health string, message *string, at time.Time) error {
	res, err := r.exec(ctx, `
		UPDATE integrations SET health_status = ?, health_message = ?, last_health_check_at = ?, updated_at = ?
		WHERE id = ?
	`, health, message, at.UTC(), r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating integration health: %w", err)
	}
	return requireAffected(res)
}

// DeactivateStale moves integrations stuck in error whose last successful
// sync (or creation, if never successful) is before cutoff to inactive.
func (r *IntegrationRepository) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.exec(ctx, `
		UPDATE integrations SET status = ?, updated_at = ?
		WHERE status = ? AND COALESCE(last_success_at, created_at) < ?
	`, models.IntegrationStatusInactive, r.Now(), models.IntegrationStatusError, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivating stale integrations: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of integrations per status.
func (r *IntegrationRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.DB().SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM integrations GROUP BY status`); err != nil {
		return nil, fmt.Errorf("counting integrations: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
