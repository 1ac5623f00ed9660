// Package integration manages marketplace connections: onboarding with a
// connection test, soft disable, health probes and listing publication.
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/orchestrator"
	"github.com/villa-sync/backend/internal/platform"
	"github.com/villa-sync/backend/internal/scheduler"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

var (
	// ErrConnectionFailed is returned when onboarding's connection test fails.
	ErrConnectionFailed = errors.New("integration: connection test failed")
	// ErrNoListing is returned when a villa has no listing on the integration's platform.
	ErrNoListing = errors.New("integration: villa is not listed on this platform")
	// ErrInactive is returned for operations on a disabled integration.
	ErrInactive = errors.New("integration: integration is not active")
)

// CreateRequest is the input for onboarding a marketplace connection.
type CreateRequest struct {
	TenantID           string                 `json:"tenant_id" validate:"required"`
	Platform           models.Platform        `json:"platform" validate:"required"`
	VillaID            *string                `json:"villa_id,omitempty"`
	Credentials        credential.Credentials `json:"credentials"`
	AutoSync           bool                   `json:"auto_sync"`
	SyncFrequencyHours float64                `json:"sync_frequency_hours" validate:"gte=0"`
}

// CreateResult carries the new integration and, when auto-sync is on, the
// result of its first sync or the reason it was skipped.
type CreateResult struct {
	Integration        *models.Integration  `json:"integration"`
	InitialSync        *orchestrator.Result `json:"initial_sync,omitempty"`
	InitialSyncSkipped string               `json:"initial_sync_skipped,omitempty"`
}

// GateRunner runs fn under the global sync gate, failing fast with
// scheduler.ErrSyncInProgress while a batch holds it. Scheduler.Exclusive
// satisfies it.
type GateRunner func(job string, fn func() error) error

// Manager coordinates integration records with their adapters.
type Manager struct {
	integrations     *storage.IntegrationRepository
	villas           *storage.VillaRepository
	registry         *platform.Registry
	vault            *credential.Vault
	orchestrator     *orchestrator.Orchestrator
	gate             GateRunner
	validate         *validator.Validate
	defaultFrequency float64
	adapterTimeout   time.Duration
	logger           zerolog.Logger
}

// NewManager creates an integration manager.
func NewManager(
	integrations *storage.IntegrationRepository,
	villas *storage.VillaRepository,
	registry *platform.Registry,
	vault *credential.Vault,
	orch *orchestrator.Orchestrator,
	gate GateRunner,
	defaultFrequencyHours float64,
	adapterTimeout time.Duration,
) *Manager {
	if adapterTimeout <= 0 {
		adapterTimeout = 30 * time.Second
	}
	return &Manager{
		integrations:     integrations,
		villas:           villas,
		registry:         registry,
		vault:            vault,
		orchestrator:     orch,
		gate:             gate,
		validate:         validator.New(),
		defaultFrequency: defaultFrequencyHours,
		adapterTimeout:   adapterTimeout,
		logger:           logging.Component("integration"),
	}
}

// Create validates the credentials for the platform, tests the connection and
// stores the integration as active with its secrets sealed. Nothing is stored
// when the test fails. With auto-sync on, a first sync runs immediately.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, err
	}
	if !req.Platform.Valid() || !m.registry.Supports(req.Platform) {
		return nil, fmt.Errorf("%w: %q", platform.ErrUnknownPlatform, req.Platform)
	}
	if req.VillaID != nil {
		if _, err := m.villas.GetByID(ctx, *req.VillaID); err != nil {
			return nil, fmt.Errorf("villa %s: %w", *req.VillaID, err)
		}
	}

	adapter, err := m.registry.New(req.Platform, req.Credentials)
	if err != nil {
		return nil, err
	}

	testCtx, cancel := context.WithTimeout(ctx, m.adapterTimeout)
	status, err := adapter.TestConnection(testCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if !status.Success {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, status.Message)
	}

	bundle, err := m.vault.SealCredentials(req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("sealing credentials: %w", err)
	}

	frequency := req.SyncFrequencyHours
	if frequency <= 0 {
		frequency = m.defaultFrequency
	}

	now := time.Now().UTC()
	integ := &models.Integration{
		TenantID:           req.TenantID,
		VillaID:            req.VillaID,
		Platform:           req.Platform,
		Credentials:        bundle,
		Status:             models.IntegrationStatusActive,
		AutoSync:           req.AutoSync,
		SyncFrequencyHours: frequency,
		HealthStatus:       models.HealthHealthy,
		LastHealthCheckAt:  &now,
	}
	if err := m.integrations.Create(ctx, integ); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("integration_id", integ.ID).
		Str("platform", string(integ.Platform)).
		Object("credentials", req.Credentials).
		Msg("integration created")

	out := &CreateResult{Integration: integ}
	if integ.AutoSync {
		err := m.gate(scheduler.JobInitial, func() error {
			result, err := m.orchestrator.SyncIntegration(ctx, integ, models.TriggerAutomatic)
			out.InitialSync = result
			return err
		})
		switch {
		case errors.Is(err, scheduler.ErrSyncInProgress):
			out.InitialSyncSkipped = "another sync batch is running"
		case err != nil:
			out.InitialSyncSkipped = err.Error()
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("integration_id", integ.ID).Msg("initial sync skipped")
		}
	}
	return out, nil
}

// Get returns one integration.
func (m *Manager) Get(ctx context.Context, id string) (*models.Integration, error) {
	return m.integrations.GetByID(ctx, id)
}

// List returns a tenant's integrations, or all of them for an empty tenant.
func (m *Manager) List(ctx context.Context, tenantID string) ([]models.Integration, error) {
	return m.integrations.List(ctx, tenantID)
}

// Disable soft-disables an integration.
func (m *Manager) Disable(ctx context.Context, id string) error {
	if err := m.integrations.UpdateStatus(ctx, id, models.IntegrationStatusInactive); err != nil {
		return err
	}
	m.logger.Info().Str("integration_id", id).Msg("integration disabled")
	return nil
}

// Test runs the health probe on one integration.
func (m *Manager) Test(ctx context.Context, id string) (*platform.ConnectionStatus, error) {
	integ, err := m.integrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.orchestrator.CheckHealth(ctx, integ)
}

// PublishVilla lists the villa on the integration's platform and remembers
// the listing id so later fetches map back to the villa.
func (m *Manager) PublishVilla(ctx context.Context, integrationID, villaID string) (*platform.PublishResult, error) {
	integ, adapter, err := m.activeAdapter(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	villa, err := m.villas.GetByID(ctx, villaID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.adapterTimeout)
	defer cancel()

	result, err := adapter.PublishListing(callCtx, platform.Listing{VillaID: villa.ID, Name: villa.Name})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	listing := &models.VillaListing{
		VillaID:   villa.ID,
		Platform:  integ.Platform,
		ListingID: result.ListingID,
	}
	if result.URL != "" {
		listing.URL = models.StringPtr(result.URL)
	}
	if err := m.villas.UpsertListing(ctx, listing); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("integration_id", integ.ID).
		Str("villa_id", villa.ID).
		Str("listing_id", result.ListingID).
		Msg("villa published")
	return result, nil
}

// PushAvailability opens or closes days on the villa's listing.
func (m *Manager) PushAvailability(ctx context.Context, integrationID, villaID string, dates []time.Time, available bool) error {
	integ, adapter, err := m.activeAdapter(ctx, integrationID)
	if err != nil {
		return err
	}

	listings, err := m.villas.ListListings(ctx, villaID)
	if err != nil {
		return err
	}
	var listingID string
	for _, l := range listings {
		if l.Platform == integ.Platform {
			listingID = l.ListingID
			break
		}
	}
	if listingID == "" {
		return fmt.Errorf("%w: %s", ErrNoListing, integ.Platform)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.adapterTimeout)
	defer cancel()
	return adapter.UpdateAvailability(callCtx, listingID, dates, available)
}

func (m *Manager) activeAdapter(ctx context.Context, integrationID string) (*models.Integration, platform.Adapter, error) {
	integ, err := m.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return nil, nil, err
	}
	if !integ.IsActive() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInactive, integ.Status)
	}
	adapter, err := m.orchestrator.Adapter(integ)
	if err != nil {
		return nil, nil, err
	}
	return integ, adapter, nil
}
