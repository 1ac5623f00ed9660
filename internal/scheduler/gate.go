package scheduler

import (
	"sync"
	"time"
)

// State is the gate's state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Ticket identifies one holder of the gate. A ticket from a run the
// watchdog already released cannot release a later holder.
type Ticket struct {
	Job       string
	StartedAt time.Time
	gen       uint64
}

// GateStatus is a point-in-time view of the gate.
type GateStatus struct {
	State     State      `json:"state"`
	Job       string     `json:"job,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Gate admits at most one sync batch at a time across every job.
type Gate struct {
	mu      sync.Mutex
	state   State
	holder  Ticket
	nextGen uint64
}

// NewGate creates an idle gate.
func NewGate() *Gate {
	return &Gate{state: StateIdle}
}

// TryAcquire moves the gate from idle to running for job. It never blocks.
func (g *Gate) TryAcquire(job string, now time.Time) (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateRunning {
		return Ticket{}, false
	}
	g.nextGen++
	g.state = StateRunning
	g.holder = Ticket{Job: job, StartedAt: now, gen: g.nextGen}
	return g.holder, true
}

// Release returns the gate to idle if t still holds it.
func (g *Gate) Release(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateRunning || g.holder.gen != t.gen {
		return false
	}
	g.state = StateIdle
	g.holder = Ticket{}
	return true
}

// ForceReleaseIfStale frees the gate when its holder has run longer than
// maxAge and returns the ticket it took away.
func (g *Gate) ForceReleaseIfStale(now time.Time, maxAge time.Duration) (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateRunning || now.Sub(g.holder.StartedAt) < maxAge {
		return Ticket{}, false
	}
	stale := g.holder
	g.state = StateIdle
	g.holder = Ticket{}
	return stale, true
}

// Snapshot returns the gate's current status.
func (g *Gate) Snapshot() GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateRunning {
		return GateStatus{State: StateIdle}
	}
	started := g.holder.StartedAt
	return GateStatus{State: StateRunning, Job: g.holder.Job, StartedAt: &started}
}
