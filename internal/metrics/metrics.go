// Package metrics provides Prometheus metrics for the sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "villa_sync"

var (
	// SyncRunsTotal tracks orchestrator runs by platform and outcome
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total number of integration sync runs by outcome",
		},
		[]string{"platform", "outcome"},
	)

	// SyncDuration tracks how long a single integration sync takes
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Duration of integration sync runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"platform"},
	)

	// BookingsTotal tracks per-record results of sync runs
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "bookings_total",
			Help:      "Bookings processed by sync runs, by action",
		},
		[]string{"platform", "action"},
	)

	// ICalEventsTotal tracks imported iCal events by result
	ICalEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ical",
			Name:      "import_events_total",
			Help:      "iCal events seen during imports, by result",
		},
		[]string{"result"},
	)

	// GateRejectionsTotal tracks batches refused because another was running
	GateRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "gate_rejections_total",
			Help:      "Sync batches rejected because a batch was already running",
		},
		[]string{"job"},
	)

	// GateRunning is 1 while a sync batch holds the gate
	GateRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "gate_running",
			Help:      "Whether a sync batch currently holds the gate",
		},
	)

	// GateForcedReleasesTotal tracks watchdog releases of stuck batches
	GateForcedReleasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "gate_forced_releases_total",
			Help:      "Sync batches force-released by the watchdog",
		},
	)

	// WebSocketClients tracks connected operator clients
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		},
	)
)

// Booking actions
const (
	ActionNew     = "new"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
	ActionError   = "error"
)
