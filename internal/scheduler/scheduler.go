// Package scheduler drives recurring sync batches behind a single
// process-wide gate, plus retention cleanup and health probes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/config"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/metrics"
	"github.com/villa-sync/backend/internal/orchestrator"
	"github.com/villa-sync/backend/internal/platform"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/storage/models"
)

// ErrSyncInProgress is returned when another sync batch holds the gate.
var ErrSyncInProgress = errors.New("scheduler: sync already in progress")

// Job names
const (
	JobQuick    = "quick_sync"
	JobFull     = "full_sync"
	JobCalendar = "calendar_sync"
	JobCleanup  = "cleanup"
	JobHealth   = "health_check"
	JobManual   = "manual_sync"
	JobInitial  = "initial_sync"
)

// Syncer runs and probes single integrations.
type Syncer interface {
	SyncIntegration(ctx context.Context, integ *models.Integration, trigger string) (*orchestrator.Result, error)
	CheckHealth(ctx context.Context, integ *models.Integration) (*platform.ConnectionStatus, error)
}

// CalendarImporter imports every configured villa feed.
type CalendarImporter interface {
	ImportAll(ctx context.Context) ([]calendar.ImportResult, error)
}

// Options tunes cadences, throttles and retention.
type Options struct {
	Specs                 config.Schedule
	DefaultFrequencyHours float64
	QuickMinAge           time.Duration
	QuickDelay            time.Duration
	FullDelay             time.Duration
	StaleRunAfter         time.Duration
	HealthWindow          time.Duration
	SyncLogRetentionDays  int
	StaleIntegrationDays  int
}

// OptionsFromConfig maps the service configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Specs:                 cfg.Schedule,
		DefaultFrequencyHours: cfg.Sync.DefaultFrequencyHours,
		QuickMinAge:           cfg.Sync.QuickMinAge,
		QuickDelay:            cfg.Sync.QuickDelay,
		FullDelay:             cfg.Sync.FullDelay,
		StaleRunAfter:         cfg.Sync.StaleRunAfter,
		HealthWindow:          cfg.Sync.HealthWindow,
		SyncLogRetentionDays:  cfg.Retention.SyncLogDays,
		StaleIntegrationDays:  cfg.Retention.StaleIntegrationDays,
	}
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name    string     `json:"name"`
	Spec    string     `json:"spec"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// Status is the scheduler's state for the operator surface.
type Status struct {
	Gate GateStatus  `json:"gate"`
	Jobs []JobStatus `json:"jobs"`
}

// CleanupResult counts what one cleanup pass changed.
type CleanupResult struct {
	CompletedBookings       int64 `json:"completed_bookings"`
	PrunedLogs              int64 `json:"pruned_logs"`
	DeactivatedIntegrations int64 `json:"deactivated_integrations"`
}

// Scheduler owns the gate and the recurring jobs.
type Scheduler struct {
	trigger      Trigger
	gate         *Gate
	syncer       Syncer
	calendars    CalendarImporter
	integrations *storage.IntegrationRepository
	bookings     *storage.BookingRepository
	logs         *storage.SyncLogRepository
	opts         Options

	handlesMu sync.RWMutex
	handles   map[string]Handle
	specs     map[string]string

	baseCtx context.Context
	cancel  context.CancelFunc

	now    func() time.Time
	pause  func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger
}

// New creates a scheduler. trigger may be nil for the cron default.
func New(
	trigger Trigger,
	syncer Syncer,
	calendars CalendarImporter,
	integrations *storage.IntegrationRepository,
	bookings *storage.BookingRepository,
	logs *storage.SyncLogRepository,
	opts Options,
) *Scheduler {
	logger := logging.Component("scheduler")
	if trigger == nil {
		trigger = NewCronTrigger(logger)
	}
	if opts.DefaultFrequencyHours <= 0 {
		opts.DefaultFrequencyHours = 2
	}
	if opts.StaleRunAfter <= 0 {
		opts.StaleRunAfter = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		trigger:      trigger,
		gate:         NewGate(),
		syncer:       syncer,
		calendars:    calendars,
		integrations: integrations,
		bookings:     bookings,
		logs:         logs,
		opts:         opts,
		handles:      make(map[string]Handle),
		specs:        make(map[string]string),
		baseCtx:      ctx,
		cancel:       cancel,
		now:          time.Now,
		pause:        sleep,
		logger:       logger,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start registers every job and starts the trigger.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{JobQuick, s.opts.Specs.Quick, func(ctx context.Context) {
			results, err := s.RunQuickSync(ctx)
			s.logBatch(JobQuick, len(results), err)
		}},
		{JobFull, s.opts.Specs.Full, func(ctx context.Context) {
			results, err := s.RunFullSync(ctx)
			s.logBatch(JobFull, len(results), err)
		}},
		{JobCalendar, s.opts.Specs.Calendar, func(ctx context.Context) {
			results, err := s.RunCalendarSync(ctx)
			s.logBatch(JobCalendar, len(results), err)
		}},
		{JobCleanup, s.opts.Specs.Cleanup, func(ctx context.Context) {
			if _, err := s.RunCleanup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("cleanup failed")
			}
		}},
		{JobHealth, s.opts.Specs.Health, func(ctx context.Context) {
			if err := s.RunHealthCheck(ctx); err != nil {
				s.logger.Error().Err(err).Msg("health check failed")
			}
		}},
	}

	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		run := job.run
		h, err := s.trigger.Schedule(job.spec, func() { run(s.baseCtx) })
		if err != nil {
			return fmt.Errorf("scheduling %s (%q): %w", job.name, job.spec, err)
		}
		s.handles[job.name] = h
		s.specs[job.name] = job.spec
	}

	s.trigger.Start()
	s.logger.Info().Int("jobs", len(s.handles)).Msg("scheduler started")
	return nil
}

// Stop cancels pending pauses and waits for running tasks.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.trigger.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) logBatch(job string, count int, err error) {
	if errors.Is(err, ErrSyncInProgress) {
		s.logger.Info().Str("job", job).Msg("skipped, another sync is running")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job", job).Msg("sync batch failed")
		return
	}
	s.logger.Info().Str("job", job).Int("count", count).Msg("sync batch finished")
}

// ShouldSync reports whether integ is due: never synced, or at least its
// sync frequency (defaultHours when unset) has elapsed.
func ShouldSync(integ *models.Integration, now time.Time, defaultHours float64) bool {
	if integ.LastSyncAt == nil {
		return true
	}
	frequency := integ.SyncFrequencyHours
	if frequency <= 0 {
		frequency = defaultHours
	}
	return now.Sub(*integ.LastSyncAt).Hours() >= frequency
}

// RunQuickSync syncs auto-sync integrations that are due and were not
// synced within the quick-sync minimum age.
func (s *Scheduler) RunQuickSync(ctx context.Context) ([]orchestrator.Result, error) {
	return s.runBatch(ctx, JobQuick, models.TriggerScheduled, s.opts.QuickDelay, func(ctx context.Context, now time.Time) ([]models.Integration, error) {
		all, err := s.integrations.ListActiveAutoSync(ctx)
		if err != nil {
			return nil, err
		}
		var due []models.Integration
		for i := range all {
			integ := &all[i]
			if integ.LastSyncAt != nil && now.Sub(*integ.LastSyncAt) < s.opts.QuickMinAge {
				continue
			}
			if ShouldSync(integ, now, s.opts.DefaultFrequencyHours) {
				due = append(due, *integ)
			}
		}
		return due, nil
	})
}

// RunFullSync walks every active auto-sync integration, still honoring each
// integration's frequency.
func (s *Scheduler) RunFullSync(ctx context.Context) ([]orchestrator.Result, error) {
	return s.runBatch(ctx, JobFull, models.TriggerScheduled, s.opts.FullDelay, func(ctx context.Context, now time.Time) ([]models.Integration, error) {
		all, err := s.integrations.ListActiveAutoSync(ctx)
		if err != nil {
			return nil, err
		}
		var due []models.Integration
		for i := range all {
			if ShouldSync(&all[i], now, s.opts.DefaultFrequencyHours) {
				due = append(due, all[i])
			}
		}
		return due, nil
	})
}

// SyncNow runs a manual sync of active integrations for villaID and/or
// platform. It fails fast with ErrSyncInProgress rather than queueing.
func (s *Scheduler) SyncNow(ctx context.Context, villaID string, p models.Platform) ([]orchestrator.Result, error) {
	return s.runBatch(ctx, JobManual, models.TriggerManual, s.opts.QuickDelay, func(ctx context.Context, _ time.Time) ([]models.Integration, error) {
		return s.integrations.ListActiveMatching(ctx, villaID, p)
	})
}

// SyncAll runs a manual sync of every active integration.
func (s *Scheduler) SyncAll(ctx context.Context) ([]orchestrator.Result, error) {
	return s.runBatch(ctx, JobManual, models.TriggerManual, s.opts.QuickDelay, func(ctx context.Context, _ time.Time) ([]models.Integration, error) {
		return s.integrations.ListActive(ctx)
	})
}

// RunCalendarSync imports every villa's iCal source under the gate.
func (s *Scheduler) RunCalendarSync(ctx context.Context) ([]calendar.ImportResult, error) {
	ticket, err := s.acquire(JobCalendar)
	if err != nil {
		return nil, err
	}
	defer s.release(ticket)

	return s.calendars.ImportAll(ctx)
}

func (s *Scheduler) runBatch(
	ctx context.Context,
	job, trigger string,
	delay time.Duration,
	selectDue func(ctx context.Context, now time.Time) ([]models.Integration, error),
) ([]orchestrator.Result, error) {
	ticket, err := s.acquire(job)
	if err != nil {
		return nil, err
	}
	defer s.release(ticket)

	due, err := selectDue(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("selecting integrations: %w", err)
	}

	results := make([]orchestrator.Result, 0, len(due))
	for i := range due {
		if i > 0 {
			if err := s.pause(ctx, delay); err != nil {
				return results, err
			}
		}

		integ := &due[i]
		result, err := s.syncer.SyncIntegration(ctx, integ, trigger)
		if err != nil {
			s.logger.Warn().Err(err).Str("integration_id", integ.ID).Msg("integration skipped")
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

func (s *Scheduler) acquire(job string) (Ticket, error) {
	ticket, ok := s.gate.TryAcquire(job, s.now())
	if !ok {
		metrics.GateRejectionsTotal.WithLabelValues(job).Inc()
		return Ticket{}, ErrSyncInProgress
	}
	metrics.GateRunning.Set(1)
	s.logger.Debug().Str("job", job).Msg("gate acquired")
	return ticket, nil
}

func (s *Scheduler) release(t Ticket) {
	if s.gate.Release(t) {
		metrics.GateRunning.Set(0)
		return
	}
	s.logger.Warn().Str("job", t.Job).Time("started_at", t.StartedAt).Msg("batch finished after the watchdog released it")
}

// RunCleanup completes past bookings, prunes old sync logs and deactivates
// integrations stuck in error.
func (s *Scheduler) RunCleanup(ctx context.Context) (*CleanupResult, error) {
	now := s.now().UTC()
	out := &CleanupResult{}

	var err error
	if out.CompletedBookings, err = s.bookings.CompletePast(ctx, now); err != nil {
		return out, err
	}
	if s.opts.SyncLogRetentionDays > 0 {
		if out.PrunedLogs, err = s.logs.PruneBefore(ctx, now.AddDate(0, 0, -s.opts.SyncLogRetentionDays)); err != nil {
			return out, err
		}
	}
	if s.opts.StaleIntegrationDays > 0 {
		if out.DeactivatedIntegrations, err = s.integrations.DeactivateStale(ctx, now.AddDate(0, 0, -s.opts.StaleIntegrationDays)); err != nil {
			return out, err
		}
	}

	s.logger.Info().
		Int64("completed_bookings", out.CompletedBookings).
		Int64("pruned_logs", out.PrunedLogs).
		Int64("deactivated_integrations", out.DeactivatedIntegrations).
		Msg("cleanup finished")
	return out, nil
}

// RunHealthCheck releases a stuck gate, logging the abandoned batch as
// failed, then probes active integrations not synced within the health
// window. Probes only touch health fields.
func (s *Scheduler) RunHealthCheck(ctx context.Context) error {
	now := s.now()

	if stale, ok := s.gate.ForceReleaseIfStale(now, s.opts.StaleRunAfter); ok {
		metrics.GateRunning.Set(0)
		metrics.GateForcedReleasesTotal.Inc()
		s.logger.Error().Str("job", stale.Job).Time("started_at", stale.StartedAt).Msg("force-released stuck sync batch")

		entry := &models.SyncLog{
			TenantID: "system",
			Trigger:  models.TriggerScheduled,
			Outcome:  models.OutcomeFailed,
			Message:  fmt.Sprintf("%s batch exceeded %s and was force-released", stale.Job, s.opts.StaleRunAfter),
			Errors: models.SyncErrorList{{
				Message:   "sync run stuck",
				Timestamp: now.UTC(),
			}},
			DurationMillis: now.Sub(stale.StartedAt).Milliseconds(),
		}
		if err := s.logs.Append(ctx, entry); err != nil {
			s.logger.Error().Err(err).Msg("recording stuck batch failed")
		}
	}

	active, err := s.integrations.ListActive(ctx)
	if err != nil {
		return err
	}

	probed := 0
	for i := range active {
		integ := &active[i]
		if integ.LastSyncAt != nil && now.Sub(*integ.LastSyncAt) < s.opts.HealthWindow {
			continue
		}
		status, err := s.syncer.CheckHealth(ctx, integ)
		if err != nil {
			s.logger.Warn().Err(err).Str("integration_id", integ.ID).Msg("recording health failed")
			continue
		}
		probed++
		if !status.Success {
			s.logger.Warn().Str("integration_id", integ.ID).Str("message", status.Message).Msg("integration unhealthy")
		}
	}

	s.logger.Debug().Int("probed", probed).Msg("health check finished")
	return nil
}

// Status reports the gate and each job's next run.
func (s *Scheduler) Status() Status {
	s.handlesMu.RLock()
	defer s.handlesMu.RUnlock()

	out := Status{Gate: s.gate.Snapshot(), Jobs: []JobStatus{}}
	for _, name := range []string{JobQuick, JobFull, JobCalendar, JobCleanup, JobHealth} {
		h, ok := s.handles[name]
		if !ok {
			continue
		}
		js := JobStatus{Name: name, Spec: s.specs[name]}
		if next := h.Next(); !next.IsZero() {
			js.NextRun = &next
		}
		out.Jobs = append(out.Jobs, js)
	}
	return out
}

// Exclusive runs fn while holding the gate, for on-demand work that must not
// overlap a sync batch.
func (s *Scheduler) Exclusive(job string, fn func() error) error {
	ticket, err := s.acquire(job)
	if err != nil {
		return err
	}
	defer s.release(ticket)
	return fn()
}
