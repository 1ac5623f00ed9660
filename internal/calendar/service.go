package calendar

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// ErrNoCalendarSource is returned when importing for a villa without an iCal URL.
var ErrNoCalendarSource = errors.New("calendar: villa has no calendar source")

// DefaultExportWindowDays is how far ahead exports reach.
const DefaultExportWindowDays = 365

// Service ties export, feed validation and import to the villa records.
type Service struct {
	villas       *storage.VillaRepository
	bookings     *storage.BookingRepository
	parser       *Parser
	importer     *Importer
	probeClient  *http.Client
	exportWindow int
	now          func() time.Time
	logger       zerolog.Logger
}

// NewService creates a calendar service.
func NewService(villas *storage.VillaRepository, bookings *storage.BookingRepository, parser *Parser, importer *Importer, exportWindowDays int) *Service {
	if exportWindowDays <= 0 {
		exportWindowDays = DefaultExportWindowDays
	}
	return &Service{
		villas:       villas,
		bookings:     bookings,
		parser:       parser,
		importer:     importer,
		probeClient:  &http.Client{Timeout: probeTimeout},
		exportWindow: exportWindowDays,
		now:          time.Now,
		logger:       logging.Component("calendar"),
	}
}

// ExportVilla renders the villa's calendar from today through the export window.
func (s *Service) ExportVilla(ctx context.Context, villaID string) (*models.Villa, []byte, error) {
	villa, err := s.villas.GetByID(ctx, villaID)
	if err != nil {
		return nil, nil, err
	}

	from := models.TruncateToDay(s.now())
	to := from.AddDate(0, 0, s.exportWindow)

	bookings, err := s.bookings.ListBlocking(ctx, villaID, from, to)
	if err != nil {
		return nil, nil, err
	}
	blocked, err := s.villas.ListBlockedDates(ctx, villaID, from, to)
	if err != nil {
		return nil, nil, err
	}

	return villa, Export(villa, bookings, blocked), nil
}

// ExportFeed serves the subscription feed. A token mismatch reports
// storage.ErrNotFound so a probe cannot tell villas apart.
func (s *Service) ExportFeed(ctx context.Context, villaID, token string) ([]byte, error) {
	villa, err := s.villas.GetByID(ctx, villaID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(villa.FeedToken), []byte(token)) != 1 {
		return nil, storage.ErrNotFound
	}

	_, doc, err := s.ExportVilla(ctx, villaID)
	return doc, err
}

// SetCalendarSource validates rawURL and stores it as the villa's import
// source. An empty URL clears the source.
func (s *Service) SetCalendarSource(ctx context.Context, villaID, rawURL, source string) error {
	if source == "" {
		source = "ical"
	}
	if rawURL == "" {
		return s.villas.UpdateCalendarSource(ctx, villaID, nil, source)
	}
	if err := ValidateFeedURL(ctx, s.probeClient, rawURL); err != nil {
		return err
	}
	return s.villas.UpdateCalendarSource(ctx, villaID, &rawURL, source)
}

// RotateFeedToken invalidates the villa's current subscription URL.
func (s *Service) RotateFeedToken(ctx context.Context, villaID string) (string, error) {
	return s.villas.RotateFeedToken(ctx, villaID)
}

// ImportVilla imports the villa's configured calendar source.
func (s *Service) ImportVilla(ctx context.Context, villaID string) (*ImportResult, error) {
	villa, err := s.villas.GetByID(ctx, villaID)
	if err != nil {
		return nil, err
	}
	if !villa.HasCalendarSource() {
		return nil, ErrNoCalendarSource
	}
	return s.ImportFromURL(ctx, villaID, *villa.ICalURL, villa.ICalSource)
}

// ImportFromURL validates, fetches and imports a feed into villaID.
func (s *Service) ImportFromURL(ctx context.Context, villaID, rawURL, defaultSource string) (*ImportResult, error) {
	if err := ValidateFeedURL(ctx, s.probeClient, rawURL); err != nil {
		return nil, err
	}

	events, err := s.parser.FetchAndParse(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("importing calendar for villa %s: %w", villaID, err)
	}

	return s.importer.ImportEvents(ctx, villaID, events, defaultSource)
}

// ImportAll imports every villa with a calendar source, one after another.
// A villa whose feed cannot be fetched gets a result carrying the error.
func (s *Service) ImportAll(ctx context.Context) ([]ImportResult, error) {
	villas, err := s.villas.ListWithCalendarSource(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ImportResult, 0, len(villas))
	for _, villa := range villas {
		result, err := s.ImportFromURL(ctx, villa.ID, *villa.ICalURL, villa.ICalSource)
		if err != nil {
			s.logger.Error().Err(err).Str("villa_id", villa.ID).Msg("calendar import failed")
			result = &ImportResult{
				VillaID:   villa.ID,
				Conflicts: []ImportConflict{},
				Errors:    []EventError{{Message: err.Error()}},
				SyncedAt:  s.now().UTC(),
			}
		}
		results = append(results, *result)
	}
	return results, nil
}
