// Package orchestrator runs one integration's marketplace sync end to end:
// adapter resolution, connectivity check, fetch, per-record reconciliation,
// integration bookkeeping and the sync log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/villa-sync/backend/internal/booking"
	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/metrics"
	"github.com/villa-sync/backend/internal/platform"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

var (
	// ErrIntegrationBusy is returned when the integration is already syncing.
	ErrIntegrationBusy = errors.New("orchestrator: integration sync already running")
	// ErrConnectionRejected wraps an unsuccessful connectivity check.
	ErrConnectionRejected = errors.New("orchestrator: connection test failed")
)

const (
	defaultAdapterTimeout = 30 * time.Second
	defaultFailureLimit   = 3
	breakerCooldown       = 10 * time.Minute
)

// Notifier is told about runs that changed bookings. Its errors never fail a sync.
type Notifier interface {
	NotifySync(entry *models.SyncLog) error
}

// Options tunes the orchestrator.
type Options struct {
	// AdapterTimeout bounds each adapter call.
	AdapterTimeout time.Duration
	// FailureLimit is the number of consecutive connectivity failures that
	// moves an integration to error and opens its circuit breaker.
	FailureLimit int
}

// Result is what a caller gets back from a sync.
type Result struct {
	IntegrationID   string             `json:"integration_id"`
	Platform        models.Platform    `json:"platform"`
	Success         bool               `json:"success"`
	NewBookings     int                `json:"new_bookings"`
	UpdatedBookings int                `json:"updated_bookings"`
	SkippedBookings int                `json:"skipped_bookings"`
	ErrorCount      int                `json:"error_count"`
	Conflicts       []booking.Conflict `json:"conflicts"`
	Errors          []models.SyncError `json:"errors"`
	Message         string             `json:"message"`
	DurationMillis  int64              `json:"duration_ms"`
}

// Outcome classifies the result for the sync log.
func (r *Result) Outcome() string {
	switch {
	case !r.Success:
		return models.OutcomeFailed
	case r.ErrorCount > 0:
		return models.OutcomePartialSuccess
	default:
		return models.OutcomeSuccess
	}
}

type failureKind int

const (
	failureNone failureKind = iota
	failureConfig
	failureConnectivity
)

type recordAction int

const (
	actionNew recordAction = iota
	actionUpdated
	actionSkipped
	actionConflict
)

// Orchestrator syncs integrations against their marketplaces.
type Orchestrator struct {
	integrations *storage.IntegrationRepository
	bookings     *storage.BookingRepository
	villas       *storage.VillaRepository
	logs         *storage.SyncLogRepository
	registry     *platform.Registry
	vault        *credential.Vault
	conflicts    *booking.ConflictChecker
	notifier     Notifier
	opts         Options

	mu       sync.Mutex
	inFlight map[string]bool
	breakers map[string]*gobreaker.CircuitBreaker

	now    func() time.Time
	logger zerolog.Logger
}

// New creates an orchestrator. notifier may be nil.
func New(
	integrations *storage.IntegrationRepository,
	bookings *storage.BookingRepository,
	villas *storage.VillaRepository,
	logs *storage.SyncLogRepository,
	registry *platform.Registry,
	vault *credential.Vault,
	notifier Notifier,
	opts Options,
) *Orchestrator {
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = defaultAdapterTimeout
	}
	if opts.FailureLimit <= 0 {
		opts.FailureLimit = defaultFailureLimit
	}
	return &Orchestrator{
		integrations: integrations,
		bookings:     bookings,
		villas:       villas,
		logs:         logs,
		registry:     registry,
		vault:        vault,
		conflicts:    booking.NewConflictChecker(bookings.ListBlocking),
		notifier:     notifier,
		opts:         opts,
		inFlight:     make(map[string]bool),
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
		now:          time.Now,
		logger:       logging.Component("orchestrator"),
	}
}

// SyncIntegration runs one sync of integ. Every outcome, including failures,
// is reported in the Result and the sync log; the only error is
// ErrIntegrationBusy.
func (o *Orchestrator) SyncIntegration(ctx context.Context, integ *models.Integration, trigger string) (*Result, error) {
	if !o.claim(integ.ID) {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationBusy, integ.ID)
	}
	defer o.release(integ.ID)

	started := o.now()
	result := &Result{
		IntegrationID: integ.ID,
		Platform:      integ.Platform,
		Conflicts:     []booking.Conflict{},
		Errors:        []models.SyncError{},
	}

	kind := o.run(ctx, integ, result)
	result.Success = kind == failureNone
	if result.Success {
		result.Message = fmt.Sprintf("%d new, %d updated, %d skipped, %d errors, %d conflicts",
			result.NewBookings, result.UpdatedBookings, result.SkippedBookings, result.ErrorCount, len(result.Conflicts))
	}
	elapsed := o.now().Sub(started)
	result.DurationMillis = elapsed.Milliseconds()

	o.record(ctx, integ, trigger, kind, result)

	metrics.SyncRunsTotal.WithLabelValues(string(integ.Platform), result.Outcome()).Inc()
	metrics.SyncDuration.WithLabelValues(string(integ.Platform)).Observe(elapsed.Seconds())

	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, integ *models.Integration, result *Result) failureKind {
	logger := o.logger.With().Str("integration_id", integ.ID).Str("platform", string(integ.Platform)).Logger()

	adapter, creds, err := o.adapterFor(integ)
	if err != nil {
		logger.Error().Err(err).Msg("cannot build adapter")
		result.Message = err.Error()
		return failureConfig
	}

	cb := o.breaker(integ.ID)

	if _, err := o.guarded(ctx, cb, func(ctx context.Context) (any, error) {
		return checkConnection(ctx, adapter)
	}); err != nil {
		logger.Warn().Err(err).Msg("connection test failed")
		result.Message = err.Error()
		return failureConnectivity
	}

	out, err := o.guarded(ctx, cb, func(ctx context.Context) (any, error) {
		return adapter.FetchBookings(ctx, platform.FetchOptions{ListingRef: creds.ListingID})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("fetching bookings failed")
		result.Message = fmt.Sprintf("fetching bookings: %v", err)
		return failureConnectivity
	}
	records, _ := out.([]platform.NativeRecord)

	for _, rec := range records {
		action, conflict, recordID, err := o.processRecord(ctx, integ, adapter, rec)
		if err != nil {
			logger.Warn().Err(err).Str("record_id", recordID).Msg("record failed")
			result.ErrorCount++
			result.Errors = append(result.Errors, models.SyncError{
				Message:   err.Error(),
				RecordID:  recordID,
				Timestamp: o.now().UTC(),
			})
			metrics.BookingsTotal.WithLabelValues(string(integ.Platform), metrics.ActionError).Inc()
			continue
		}

		switch action {
		case actionNew:
			result.NewBookings++
			metrics.BookingsTotal.WithLabelValues(string(integ.Platform), metrics.ActionNew).Inc()
		case actionUpdated:
			result.UpdatedBookings++
			metrics.BookingsTotal.WithLabelValues(string(integ.Platform), metrics.ActionUpdated).Inc()
		case actionSkipped:
			result.SkippedBookings++
			metrics.BookingsTotal.WithLabelValues(string(integ.Platform), metrics.ActionSkipped).Inc()
		case actionConflict:
			result.Conflicts = append(result.Conflicts, *conflict)
		}
	}

	logger.Info().
		Int("records", len(records)).
		Int("new", result.NewBookings).
		Int("updated", result.UpdatedBookings).
		Int("skipped", result.SkippedBookings).
		Int("errors", result.ErrorCount).
		Int("conflicts", len(result.Conflicts)).
		Msg("integration sync finished")

	return failureNone
}

// adapterFor decrypts credentials and builds the adapter. Secrets whose
// decryption fell back are passed on as stored; the adapter's own
// credential checks decide whether they are usable.
func (o *Orchestrator) adapterFor(integ *models.Integration) (platform.Adapter, credential.Credentials, error) {
	if !o.registry.Supports(integ.Platform) {
		return nil, credential.Credentials{}, fmt.Errorf("%w: %q", platform.ErrUnknownPlatform, integ.Platform)
	}

	creds, fallbacks := o.vault.OpenBundle(integ.Credentials)
	if len(fallbacks) > 0 {
		o.logger.Warn().Str("integration_id", integ.ID).Strs("fields", fallbacks).Msg("credential decryption fell back to stored value")
	}

	adapter, err := o.registry.New(integ.Platform, creds)
	if err != nil {
		return nil, creds, err
	}
	return adapter, creds, nil
}

func checkConnection(ctx context.Context, adapter platform.Adapter) (*platform.ConnectionStatus, error) {
	status, err := adapter.TestConnection(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Success {
		return status, fmt.Errorf("%w: %s", ErrConnectionRejected, status.Message)
	}
	return status, nil
}

// guarded runs fn through the integration's breaker with the adapter timeout.
func (o *Orchestrator) guarded(ctx context.Context, cb *gobreaker.CircuitBreaker, fn func(context.Context) (any, error)) (any, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.AdapterTimeout)
		defer cancel()
		return fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("platform temporarily suspended after repeated failures: %w", err)
	}
	return out, err
}

func (o *Orchestrator) breaker(integrationID string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cb, ok := o.breakers[integrationID]; ok {
		return cb
	}
	limit := uint32(o.opts.FailureLimit)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        integrationID,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn().Str("integration_id", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	o.breakers[integrationID] = cb
	return cb
}

// processRecord reconciles one fetched record. A panic inside is reported as
// that record's error.
func (o *Orchestrator) processRecord(ctx context.Context, integ *models.Integration, adapter platform.Adapter, rec platform.NativeRecord) (action recordAction, conflict *booking.Conflict, recordID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing record: %v", r)
		}
	}()

	nb, err := adapter.TransformBooking(rec)
	if err != nil {
		return 0, nil, "", fmt.Errorf("transforming record: %w", err)
	}
	recordID = nb.ExternalID

	start, end := models.TruncateToDay(nb.StartDate), models.TruncateToDay(nb.EndDate)
	if err := booking.ValidateRange(start, end); err != nil {
		return 0, nil, recordID, err
	}

	villaID, err := o.resolveVilla(ctx, integ, nb.ListingRef)
	if err != nil {
		return 0, nil, recordID, err
	}

	source := string(integ.Platform)
	existing, err := o.bookings.FindByExternalID(ctx, source, nb.ExternalID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, nil, recordID, err
	}

	if existing == nil && nb.Status == models.BookingStatusCancelled {
		return actionSkipped, nil, recordID, nil
	}

	now := o.now().UTC()
	candidate := models.Booking{
		VillaID:           villaID,
		GuestName:         nb.GuestName,
		StartDate:         start,
		EndDate:           end,
		TotalFare:         nb.TotalFare,
		Status:            nb.Status,
		ExternalBookingID: models.StringPtr(nb.ExternalID),
		Source:            source,
		LastSyncedAt:      &now,
		AutoSynced:        true,
	}

	target, action := &candidate, actionNew
	if existing != nil {
		if !Changed(existing, &candidate) {
			return actionSkipped, nil, recordID, nil
		}
		existing.GuestName = candidate.GuestName
		existing.TotalFare = candidate.TotalFare
		existing.Status = candidate.Status
		existing.StartDate = candidate.StartDate
		existing.EndDate = candidate.EndDate
		existing.LastSyncedAt = &now
		target, action = existing, actionUpdated
	}

	var check storage.BlockingCheck
	if target.IsBlocking() {
		check = o.conflicts.Guard(target.VillaID, start, end, nb.ExternalID)
	}
	if action == actionUpdated {
		err = o.bookings.UpdateChecked(ctx, target, check)
	} else {
		err = o.bookings.CreateChecked(ctx, target, check)
	}

	var conflictErr *booking.ConflictError
	if errors.As(err, &conflictErr) {
		return actionConflict, &conflictErr.Conflict, recordID, nil
	}
	if err != nil {
		return 0, nil, recordID, err
	}
	return action, nil, recordID, nil
}

func (o *Orchestrator) resolveVilla(ctx context.Context, integ *models.Integration, listingRef string) (string, error) {
	if integ.VillaID != nil && *integ.VillaID != "" {
		return *integ.VillaID, nil
	}
	if listingRef == "" {
		return "", errors.New("record has no listing and integration has no villa")
	}
	villaID, err := o.villas.FindVillaByListing(ctx, integ.Platform, listingRef)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("no villa mapped to %s listing %s", integ.Platform, listingRef)
	}
	return villaID, err
}

// Changed reports whether incoming differs from existing in guest name,
// fare, status or dates. Active and Confirmed count as the same status.
func Changed(existing, incoming *models.Booking) bool {
	return existing.GuestName != incoming.GuestName ||
		existing.TotalFare != incoming.TotalFare ||
		normalizeStatus(existing.Status) != normalizeStatus(incoming.Status) ||
		!existing.StartDate.Equal(incoming.StartDate) ||
		!existing.EndDate.Equal(incoming.EndDate)
}

func normalizeStatus(status string) string {
	if status == models.BookingStatusActive {
		return models.BookingStatusConfirmed
	}
	return status
}

// record persists integration state and the sync log, then notifies.
// Configuration failures leave the integration as it was.
func (o *Orchestrator) record(ctx context.Context, integ *models.Integration, trigger string, kind failureKind, result *Result) {
	now := o.now().UTC()
	outcome := result.Outcome()
	readStatus := integ.Status

	if kind != failureConfig {
		integ.LastSyncAt = &now
		integ.LastSyncResult = &models.SyncSummary{
			NewBookings:     result.NewBookings,
			UpdatedBookings: result.UpdatedBookings,
			SkippedBookings: result.SkippedBookings,
			ErrorCount:      result.ErrorCount,
			Outcome:         outcome,
			Message:         result.Message,
			FinishedAt:      now,
		}

		if kind == failureConnectivity {
			integ.ConsecutiveFailures++
			if integ.ConsecutiveFailures >= o.opts.FailureLimit && integ.Status == models.IntegrationStatusActive {
				integ.Status = models.IntegrationStatusError
				o.logger.Warn().Str("integration_id", integ.ID).Int("failures", integ.ConsecutiveFailures).Msg("integration moved to error")
			}
		} else {
			integ.LastSuccessAt = &now
			integ.ConsecutiveFailures = 0
			integ.TotalSyncedBookings += result.NewBookings + result.UpdatedBookings
			if integ.Status == models.IntegrationStatusError {
				integ.Status = models.IntegrationStatusActive
			}
		}

		if err := o.integrations.SaveSyncState(ctx, integ, readStatus); err != nil {
			o.logger.Error().Err(err).Str("integration_id", integ.ID).Msg("saving sync state failed")
		}
	}

	// the run-level failure is listed but not counted
	errs := result.Errors
	if !result.Success {
		errs = append(errs[:len(errs):len(errs)], models.SyncError{Message: result.Message, Timestamp: now})
	}

	entry := &models.SyncLog{
		TenantID:       integ.TenantID,
		IntegrationID:  models.StringPtr(integ.ID),
		Platform:       integ.Platform,
		Trigger:        trigger,
		Outcome:        outcome,
		NewCount:       result.NewBookings,
		UpdatedCount:   result.UpdatedBookings,
		SkippedCount:   result.SkippedBookings,
		ErrorCount:     result.ErrorCount,
		Errors:         errs,
		Message:        result.Message,
		DurationMillis: result.DurationMillis,
	}
	if err := o.logs.Append(ctx, entry); err != nil {
		o.logger.Error().Err(err).Str("integration_id", integ.ID).Msg("appending sync log failed")
	}

	if o.notifier != nil && (result.NewBookings > 0 || result.UpdatedBookings > 0) {
		if err := o.notifier.NotifySync(entry); err != nil {
			o.logger.Warn().Err(err).Str("integration_id", integ.ID).Msg("sync notification failed")
		}
	}
}

// CheckHealth probes the integration's connection and records the health
// outcome. Status is never changed.
func (o *Orchestrator) CheckHealth(ctx context.Context, integ *models.Integration) (*platform.ConnectionStatus, error) {
	status := o.probe(ctx, integ)

	health := models.HealthHealthy
	if !status.Success {
		health = models.HealthUnhealthy
	}
	var message *string
	if msg := strings.TrimSpace(status.Message); msg != "" {
		message = &msg
	}

	now := o.now().UTC()
	if err := o.integrations.UpdateHealth(ctx, integ.ID, health, message, now); err != nil {
		return status, err
	}
	integ.HealthStatus = health
	integ.HealthMessage = message
	integ.LastHealthCheckAt = &now
	return status, nil
}

func (o *Orchestrator) probe(ctx context.Context, integ *models.Integration) *platform.ConnectionStatus {
	adapter, _, err := o.adapterFor(integ)
	if err != nil {
		return &platform.ConnectionStatus{Success: false, Message: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.AdapterTimeout)
	defer cancel()

	status, err := adapter.TestConnection(callCtx)
	if err != nil {
		return &platform.ConnectionStatus{Success: false, Message: err.Error()}
	}
	return status
}

// Adapter builds the adapter for integ with decrypted credentials.
func (o *Orchestrator) Adapter(integ *models.Integration) (platform.Adapter, error) {
	adapter, _, err := o.adapterFor(integ)
	return adapter, err
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[id] {
		return false
	}
	o.inFlight[id] = true
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}
