package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/villa-sync/backend/internal/storage/models"
)

// VillaRepository provides data access for villas, their marketplace
// listings and manually blocked dates.
type VillaRepository struct {
	BaseRepository
}

// NewVillaRepository creates a new villa repository.
func NewVillaRepository(db *DB) *VillaRepository {
	return &VillaRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const villaColumns = `id, owner_id, name, ical_url, ical_source, feed_token, created_at, updated_at`

// Create inserts a new villa with a fresh feed token.
func (r *VillaRepository) Create(ctx context.Context, villa *models.Villa) error {
	villa.ID = GenerateID()
	villa.FeedToken = GenerateID()
	villa.CreatedAt = r.Now()
	villa.UpdatedAt = villa.CreatedAt
	if villa.ICalSource == "" {
		villa.ICalSource = "ical"
	}

	_, err := r.namedExec(ctx, `
		INSERT INTO villas (`+villaColumns+`)
		VALUES (:id, :owner_id, :name, :ical_url, :ical_source, :feed_token, :created_at, :updated_at)
	`, villa)
	if err != nil {
		return fmt.Errorf("inserting villa: %w", err)
	}
	return nil
}

// GetByID retrieves a villa by its ID.
func (r *VillaRepository) GetByID(ctx context.Context, id string) (*models.Villa, error) {
	villa := &models.Villa{}
	if err := r.get(ctx, villa, `SELECT `+villaColumns+` FROM villas WHERE id = ?`, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("querying villa: %w", err)
	}
	return villa, nil
}

// List retrieves all villas.
func (r *VillaRepository) List(ctx context.Context) ([]models.Villa, error) {
	var villas []models.Villa
	if err := r.DB().SelectContext(ctx, &villas, `SELECT `+villaColumns+` FROM villas ORDER BY name`); err != nil {
		return nil, fmt.Errorf("querying villas: %w", err)
	}
	return villas, nil
}

// ListWithCalendarSource retrieves villas that import an external iCal feed.
func (r *VillaRepository) ListWithCalendarSource(ctx context.Context) ([]models.Villa, error) {
	var villas []models.Villa
	err := r.DB().SelectContext(ctx, &villas, `
		SELECT `+villaColumns+` FROM villas
		WHERE ical_url IS NOT NULL AND ical_url != ''
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying villas with calendar source: %w", err)
	}
	return villas, nil
}

// UpdateCalendarSource sets or clears the iCal import URL and its default source tag.
func (r *VillaRepository) UpdateCalendarSource(ctx context.Context, id string, url *string, source string) error {
	res, err := r.exec(ctx, `
		UPDATE villas SET ical_url = ?, ical_source = ?, updated_at = ? WHERE id = ?
	`, url, source, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating calendar source: %w", err)
	}
	return requireAffected(res)
}

// RotateFeedToken replaces the villa's subscription token and returns the new one.
func (r *VillaRepository) RotateFeedToken(ctx context.Context, id string) (string, error) {
	token := GenerateID()
	res, err := r.exec(ctx, `UPDATE villas SET feed_token = ?, updated_at = ? WHERE id = ?`, token, r.Now(), id)
	if err != nil {
		return "", fmt.Errorf("rotating feed token: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return "", err
	}
	return token, nil
}

// AddBlockedDate blocks a single day for the villa.
func (r *VillaRepository) AddBlockedDate(ctx context.Context, blocked *models.BlockedDate) error {
	blocked.ID = GenerateID()
	blocked.Date = models.TruncateToDay(blocked.Date)
	blocked.CreatedAt = r.Now()

	_, err := r.namedExec(ctx, `
		INSERT INTO blocked_dates (id, villa_id, date, reason, created_at)
		VALUES (:id, :villa_id, :date, :reason, :created_at)
	`, blocked)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting blocked date: %w", err)
	}
	return nil
}

// ListBlockedDates retrieves blocked days in [from, to).
func (r *VillaRepository) ListBlockedDates(ctx context.Context, villaID string, from, to time.Time) ([]models.BlockedDate, error) {
	var dates []models.BlockedDate
	err := r.DB().SelectContext(ctx, &dates, `
		SELECT id, villa_id, date, reason, created_at FROM blocked_dates
		WHERE villa_id = ? AND date >= ? AND date < ?
		ORDER BY date, id
	`, villaID, models.TruncateToDay(from), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying blocked dates: %w", err)
	}
	return dates, nil
}

// BlockedDateIDs returns the set of blocked-date ids for the villa.
func (r *VillaRepository) BlockedDateIDs(ctx context.Context, villaID string) (map[string]bool, error) {
	var ids []string
	if err := r.DB().SelectContext(ctx, &ids, `SELECT id FROM blocked_dates WHERE villa_id = ?`, villaID); err != nil {
		return nil, fmt.Errorf("querying blocked date ids: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// UpsertListing records which villa a marketplace listing belongs to.
func (r *VillaRepository) UpsertListing(ctx context.Context, listing *models.VillaListing) error {
	listing.CreatedAt = r.Now()
	_, err := r.namedExec(ctx, `
		INSERT INTO villa_listings (villa_id, platform, listing_id, url, created_at)
		VALUES (:villa_id, :platform, :listing_id, :url, :created_at)
		ON CONFLICT (platform, listing_id) DO UPDATE SET villa_id = excluded.villa_id, url = excluded.url
	`, listing)
	if err != nil {
		return fmt.Errorf("upserting listing: %w", err)
	}
	return nil
}

// FindVillaByListing resolves a marketplace listing to its villa id.
func (r *VillaRepository) FindVillaByListing(ctx context.Context, platform models.Platform, listingID string) (string, error) {
	var villaID string
	err := r.get(ctx, &villaID, `
		SELECT villa_id FROM villa_listings WHERE platform = ? AND listing_id = ?
	`, platform, listingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("querying listing: %w", err)
	}
	return villaID, nil
}

// ListListings retrieves all marketplace listings for a villa.
func (r *VillaRepository) ListListings(ctx context.Context, villaID string) ([]models.VillaListing, error) {
	var listings []models.VillaListing
	err := r.DB().SelectContext(ctx, &listings, `
		SELECT villa_id, platform, listing_id, url, created_at FROM villa_listings
		WHERE villa_id = ? ORDER BY platform
	`, villaID)
	if err != nil {
		return nil, fmt.Errorf("querying listings: %w", err)
	}
	return listings, nil
}
