package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/config"
	"github.com/villa-sync/backend/internal/orchestrator"
	"github.com/villa-sync/backend/internal/platform"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

type fakeHandle struct{ next time.Time }

func (h fakeHandle) Cancel()         {}
func (h fakeHandle) Next() time.Time { return h.next }

type fakeTrigger struct {
	mu      sync.Mutex
	tasks   map[string]func()
	started bool
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{tasks: make(map[string]func())}
}

func (f *fakeTrigger) Schedule(spec string, task func()) (Handle, error) {
	if spec == "never" {
		return nil, errors.New("bad spec")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[spec] = task
	return fakeHandle{next: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeTrigger) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeTrigger) Stop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (f *fakeTrigger) fire(spec string) {
	f.mu.Lock()
	task := f.tasks[spec]
	f.mu.Unlock()
	task()
}

type fakeSyncer struct {
	mu      sync.Mutex
	synced  []string
	probed  []string
	started chan struct{}
	block   chan struct{}
}

func (f *fakeSyncer) SyncIntegration(ctx context.Context, integ *models.Integration, trigger string) (*orchestrator.Result, error) {
	f.mu.Lock()
	f.synced = append(f.synced, integ.ID)
	started, block := f.started, f.block
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return &orchestrator.Result{IntegrationID: integ.ID, Platform: integ.Platform, Success: true}, nil
}

func (f *fakeSyncer) CheckHealth(ctx context.Context, integ *models.Integration) (*platform.ConnectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, integ.ID)
	return &platform.ConnectionStatus{Success: true}, nil
}

func (f *fakeSyncer) syncedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.synced...)
}

type fakeImporter struct {
	calls int
}

func (f *fakeImporter) ImportAll(ctx context.Context) ([]calendar.ImportResult, error) {
	f.calls++
	return []calendar.ImportResult{{VillaID: "v1"}}, nil
}

type SchedulerSuite struct {
	suite.Suite
	ctx          context.Context
	db           *storage.DB
	integrations *storage.IntegrationRepository
	bookings     *storage.BookingRepository
	villas       *storage.VillaRepository
	logs         *storage.SyncLogRepository
	trigger      *fakeTrigger
	syncer       *fakeSyncer
	importer     *fakeImporter
	sched        *Scheduler
	now          time.Time
	pauses       []time.Duration
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := storage.Open(filepath.Join(s.T().TempDir(), "scheduler.db"))
	s.Require().NoError(err)
	s.db = db

	s.integrations = storage.NewIntegrationRepository(db)
	s.bookings = storage.NewBookingRepository(db)
	s.villas = storage.NewVillaRepository(db)
	s.logs = storage.NewSyncLogRepository(db)
	s.trigger = newFakeTrigger()
	s.syncer = &fakeSyncer{}
	s.importer = &fakeImporter{}
	s.now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	s.pauses = nil

	s.sched = New(s.trigger, s.syncer, s.importer, s.integrations, s.bookings, s.logs, Options{
		Specs: config.Schedule{
			Quick:    "quick",
			Full:     "full",
			Calendar: "calendar",
			Cleanup:  "cleanup",
			Health:   "health",
		},
		DefaultFrequencyHours: 2,
		QuickMinAge:           14 * time.Minute,
		QuickDelay:            2 * time.Second,
		FullDelay:             5 * time.Second,
		StaleRunAfter:         30 * time.Minute,
		HealthWindow:          15 * time.Minute,
		SyncLogRetentionDays:  30,
		StaleIntegrationDays:  30,
	})
	s.sched.now = func() time.Time { return s.now }
	s.sched.pause = func(ctx context.Context, d time.Duration) error {
		s.pauses = append(s.pauses, d)
		return nil
	}
}

func (s *SchedulerSuite) TearDownTest() {
	s.db.Close()
}

func (s *SchedulerSuite) integration(autoSync bool, frequency float64, lastSyncAgo time.Duration) *models.Integration {
	integ := &models.Integration{
		TenantID:           "tenant-1",
		Platform:           models.PlatformAirbnb,
		Status:             models.IntegrationStatusActive,
		AutoSync:           autoSync,
		SyncFrequencyHours: frequency,
	}
	s.Require().NoError(s.integrations.Create(s.ctx, integ))
	if lastSyncAgo > 0 {
		at := s.now.Add(-lastSyncAgo)
		integ.LastSyncAt = &at
		s.Require().NoError(s.integrations.SaveSyncState(s.ctx, integ, models.IntegrationStatusActive))
	}
	return integ
}

func (s *SchedulerSuite) TestQuickAndFullSelection() {
	never := s.integration(true, 2, 0)
	recent := s.integration(true, 0.1, 10*time.Minute)
	overdue := s.integration(true, 2, 3*time.Hour)
	throttled := s.integration(true, 2, 90*time.Minute)
	manualOnly := s.integration(false, 2, 0)

	results, err := s.sched.RunQuickSync(s.ctx)
	s.Require().NoError(err)
	s.Len(results, 2)
	s.ElementsMatch([]string{never.ID, overdue.ID}, s.syncer.syncedIDs())
	s.Equal([]time.Duration{2 * time.Second}, s.pauses)

	s.syncer.synced = nil
	s.pauses = nil
	_, err = s.sched.RunFullSync(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{never.ID, recent.ID, overdue.ID}, s.syncer.syncedIDs())
	s.NotContains(s.syncer.syncedIDs(), throttled.ID)
	s.NotContains(s.syncer.syncedIDs(), manualOnly.ID)
	s.Equal([]time.Duration{5 * time.Second, 5 * time.Second}, s.pauses)
}

func (s *SchedulerSuite) TestManualSyncIgnoresThrottleAndFilters() {
	villa := &models.Villa{OwnerID: "o", Name: "Villa Luna"}
	s.Require().NoError(s.villas.Create(s.ctx, villa))

	scoped := &models.Integration{TenantID: "t", VillaID: &villa.ID, Platform: models.PlatformVRBO, Status: models.IntegrationStatusActive}
	s.Require().NoError(s.integrations.Create(s.ctx, scoped))
	throttled := s.integration(false, 2, 10*time.Minute)

	results, err := s.sched.SyncNow(s.ctx, villa.ID, "")
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(scoped.ID, results[0].IntegrationID)

	s.syncer.synced = nil
	_, err = s.sched.SyncNow(s.ctx, "", models.PlatformAirbnb)
	s.Require().NoError(err)
	s.Equal([]string{throttled.ID}, s.syncer.syncedIDs())

	s.syncer.synced = nil
	all, err := s.sched.SyncAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *SchedulerSuite) TestConcurrentBatchesAdmitOnlyOne() {
	s.integration(true, 2, 0)
	s.syncer.started = make(chan struct{}, 1)
	s.syncer.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := s.sched.SyncAll(s.ctx)
		done <- err
	}()
	<-s.syncer.started

	_, err := s.sched.SyncNow(s.ctx, "", "")
	s.ErrorIs(err, ErrSyncInProgress)
	_, err = s.sched.RunQuickSync(s.ctx)
	s.ErrorIs(err, ErrSyncInProgress)
	_, err = s.sched.RunCalendarSync(s.ctx)
	s.ErrorIs(err, ErrSyncInProgress)
	s.Equal(StateRunning, s.sched.Status().Gate.State)
	s.Equal(JobManual, s.sched.Status().Gate.Job)

	close(s.syncer.block)
	s.Require().NoError(<-done)
	s.Equal(StateIdle, s.sched.Status().Gate.State)

	s.syncer.mu.Lock()
	s.syncer.started = nil
	s.syncer.block = nil
	s.syncer.mu.Unlock()

	_, err = s.sched.RunCalendarSync(s.ctx)
	s.NoError(err)
	s.Equal(1, s.importer.calls)
}

func (s *SchedulerSuite) TestHealthCheckReleasesStuckBatchAndProbes() {
	stale := s.integration(true, 2, 0)
	fresh := s.integration(true, 2, 5*time.Minute)

	ticket, ok := s.sched.gate.TryAcquire(JobFull, s.now.Add(-31*time.Minute))
	s.Require().True(ok)

	s.Require().NoError(s.sched.RunHealthCheck(s.ctx))
	s.Equal(StateIdle, s.sched.gate.Snapshot().State)

	failed, err := s.logs.List(s.ctx, storage.SyncLogFilter{Outcome: models.OutcomeFailed})
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Contains(failed[0].Message, JobFull)

	s.Contains(s.syncer.probed, stale.ID)
	s.NotContains(s.syncer.probed, fresh.ID)

	next, ok := s.sched.gate.TryAcquire(JobQuick, s.now)
	s.Require().True(ok)
	s.False(s.sched.gate.Release(ticket), "the abandoned batch cannot release the new holder")
	s.True(s.sched.gate.Release(next))
}

func (s *SchedulerSuite) TestHealthCheckLeavesYoungBatchAlone() {
	_, ok := s.sched.gate.TryAcquire(JobFull, s.now.Add(-10*time.Minute))
	s.Require().True(ok)

	s.Require().NoError(s.sched.RunHealthCheck(s.ctx))
	s.Equal(StateRunning, s.sched.gate.Snapshot().State)
}

func (s *SchedulerSuite) TestCleanup() {
	villa := &models.Villa{OwnerID: "o", Name: "Villa Sol"}
	s.Require().NoError(s.villas.Create(s.ctx, villa))
	past := &models.Booking{
		VillaID:   villa.ID,
		GuestName: "Ana",
		StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC),
		Status:    models.BookingStatusConfirmed,
		Source:    models.SourceDirect,
	}
	s.Require().NoError(s.bookings.Create(s.ctx, past))

	s.Require().NoError(s.logs.Append(s.ctx, &models.SyncLog{TenantID: "t", Platform: models.PlatformAirbnb, Trigger: models.TriggerScheduled, Outcome: models.OutcomeSuccess, CreatedAt: s.now.AddDate(0, 0, -45)}))
	s.Require().NoError(s.logs.Append(s.ctx, &models.SyncLog{TenantID: "t", Platform: models.PlatformAirbnb, Trigger: models.TriggerScheduled, Outcome: models.OutcomeSuccess, CreatedAt: s.now.AddDate(0, 0, -1)}))

	broken := s.integration(true, 2, 0)
	lastOK := s.now.AddDate(0, 0, -40)
	broken.Status = models.IntegrationStatusError
	broken.LastSuccessAt = &lastOK
	s.Require().NoError(s.integrations.SaveSyncState(s.ctx, broken, models.IntegrationStatusActive))

	result, err := s.sched.RunCleanup(s.ctx)
	s.Require().NoError(err)
	s.Equal(&CleanupResult{CompletedBookings: 1, PrunedLogs: 1, DeactivatedIntegrations: 1}, result)

	stored, err := s.integrations.GetByID(s.ctx, broken.ID)
	s.Require().NoError(err)
	s.Equal(models.IntegrationStatusInactive, stored.Status)

	b, err := s.bookings.GetByID(s.ctx, past.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingStatusCompleted, b.Status)
}

func (s *SchedulerSuite) TestStartRegistersJobs() {
	s.Require().NoError(s.sched.Start())
	s.True(s.trigger.started)

	status := s.sched.Status()
	s.Len(status.Jobs, 5)
	s.Equal(JobQuick, status.Jobs[0].Name)
	s.Equal("quick", status.Jobs[0].Spec)
	s.NotNil(status.Jobs[0].NextRun)

	s.trigger.fire("calendar")
	s.Equal(1, s.importer.calls)

	s.sched.Stop()
}

func (s *SchedulerSuite) TestStartRejectsBadSpec() {
	s.sched.opts.Specs.Full = "never"
	s.Error(s.sched.Start())
}

func TestShouldSync(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		at := now.Add(-d)
		return &at
	}

	tests := []struct {
		name      string
		lastSync  *time.Time
		frequency float64
		want      bool
	}{
		{"never synced", nil, 2, true},
		{"never synced with long cadence", nil, 48, true},
		{"90 minutes into a 2h cadence", ago(90 * time.Minute), 2, false},
		{"121 minutes into a 2h cadence", ago(121 * time.Minute), 2, true},
		{"exactly at cadence", ago(2 * time.Hour), 2, true},
		{"unset frequency uses default", ago(90 * time.Minute), 0, false},
		{"unset frequency past default", ago(3 * time.Hour), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integ := &models.Integration{LastSyncAt: tt.lastSync, SyncFrequencyHours: tt.frequency}
			assert.Equal(t, tt.want, ShouldSync(integ, now, 2))
		})
	}
}

func TestGateAdmitsOneHolder(t *testing.T) {
	g := NewGate()
	now := time.Now()

	first, ok := g.TryAcquire(JobQuick, now)
	require.True(t, ok)

	var wg sync.WaitGroup
	var admitted int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.TryAcquire(JobFull, now); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, admitted)

	assert.True(t, g.Release(first))
	assert.False(t, g.Release(first), "double release is a no-op")

	_, ok = g.TryAcquire(JobFull, now)
	assert.True(t, ok)
}
