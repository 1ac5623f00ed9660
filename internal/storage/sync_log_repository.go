package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/villa-sync/backend/internal/storage/models"
)

// SyncLogRepository appends and reads sync attempt records. Rows are never
// updated; retention pruning is the only delete path.
type SyncLogRepository struct {
	BaseRepository
}

// NewSyncLogRepository creates a new sync log repository.
func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const syncLogColumns = `id, tenant_id, integration_id, platform, trigger_type, outcome, new_count,
	updated_count, skipped_count, error_count, errors, message, duration_ms, created_at`

// SyncLogFilter narrows List results. Zero values do not filter.
type SyncLogFilter struct {
	IntegrationID string
	Platform      models.Platform
	Outcome       string
	Limit         int
}

// Append stores a new sync log entry.
func (r *SyncLogRepository) Append(ctx context.Context, entry *models.SyncLog) error {
	entry.ID = GenerateID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.Now()
	}
	if entry.Errors == nil {
		entry.Errors = models.SyncErrorList{}
	}

	_, err := r.namedExec(ctx, `
		INSERT INTO sync_logs (`+syncLogColumns+`)
		VALUES (:id, :tenant_id, :integration_id, :platform, :trigger_type, :outcome, :new_count,
			:updated_count, :skipped_count, :error_count, :errors, :message, :duration_ms, :created_at)
	`, entry)
	if err != nil {
		return fmt.Errorf("inserting sync log: %w", err)
	}
	return nil
}

// List returns the newest entries first.
func (r *SyncLogRepository) List(ctx context.Context, filter SyncLogFilter) ([]models.SyncLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.SyncLog
	err := r.DB().SelectContext(ctx, &logs, `
		SELECT `+syncLogColumns+` FROM sync_logs
		WHERE (? = '' OR integration_id = ?)
		  AND (? = '' OR platform = ?)
		  AND (? = '' OR outcome = ?)
		ORDER BY created_at DESC, id
		LIMIT ?
	`, filter.IntegrationID, filter.IntegrationID,
		filter.Platform, filter.Platform,
		filter.Outcome, filter.Outcome, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync logs: %w", err)
	}
	return logs, nil
}

// Latest returns the newest entry for an integration.
func (r *SyncLogRepository) Latest(ctx context.Context, integrationID string) (*models.SyncLog, error) {
	entry := &models.SyncLog{}
	err := r.get(ctx, entry, `
		SELECT `+syncLogColumns+` FROM sync_logs
		WHERE integration_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, integrationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("querying latest sync log: %w", err)
	}
	return entry, nil
}

// PruneBefore deletes entries created before cutoff.
func (r *SyncLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM sync_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sync logs: %w", err)
	}
	return res.RowsAffected()
}
