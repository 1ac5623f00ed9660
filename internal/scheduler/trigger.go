package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Handle controls one scheduled task.
type Handle interface {
	Cancel()
	Next() time.Time
}

// Trigger fires tasks on a cadence.
type Trigger interface {
	Schedule(spec string, task func()) (Handle, error)
	Start()
	Stop() context.Context
}

// CronTrigger is the robfig/cron backed Trigger. Specs take an optional
// seconds field and @every descriptors. A task still running when its next
// tick arrives is skipped for that tick.
type CronTrigger struct {
	cron *cron.Cron
}

// NewCronTrigger creates a cron trigger logging through logger.
func NewCronTrigger(logger zerolog.Logger) *CronTrigger {
	l := cronLogger{logger: logger}
	return &CronTrigger{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

func (t *CronTrigger) Schedule(spec string, task func()) (Handle, error) {
	id, err := t.cron.AddFunc(spec, task)
	if err != nil {
		return nil, err
	}
	return cronHandle{cron: t.cron, id: id}, nil
}

func (t *CronTrigger) Start() {
	t.cron.Start()
}

// Stop halts the trigger. The returned context is done once running tasks finish.
func (t *CronTrigger) Stop() context.Context {
	return t.cron.Stop()
}

type cronHandle struct {
	cron *cron.Cron
	id   cron.EntryID
}

func (h cronHandle) Cancel() {
	h.cron.Remove(h.id)
}

func (h cronHandle) Next() time.Time {
	return h.cron.Entry(h.id).Next
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
