package status

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobActive is returned by Register when a job is already running. Callers
// must refuse to start a second concurrent run instead of overwriting state.
var ErrJobActive = errors.New("an ingestion job is already active")

// Clock returns the current time; injectable for tests.
type Clock interface {
	Now() time.Time
}

// Registry is the process-wide slot holding the currently active job, if any.
// It is the only state shared between the job goroutine and status readers;
// a single mutex serializes registration, mutation, and snapshot reads. The
// slot is swapped atomically, so a snapshot never mixes fields from two jobs.
type Registry struct {
	mu    sync.RWMutex
	clock Clock
	job   *Job
}

// NewRegistry builds an empty Registry. A nil clock defaults to the system
// clock.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = systemClock{}
	}
	return &Registry{clock: clock}
}

// Register claims the job slot and returns a handle for the new job. It fails
// with ErrJobActive while another job holds the slot.
func (r *Registry) Register() (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job != nil {
		return nil, ErrJobActive
	}
	now := r.clock.Now()
	j := &Job{
		id:  uuid.New(),
		reg: r,
	}
	j.progress.begin("", now)
	j.tracker.sessionStart = now
	r.job = j
	return j, nil
}

// Snapshot returns a point-in-time copy of the active job's state, or
// ok=false when no job is registered. It never blocks on the job beyond the
// shared mutex and never allocates past the returned value.
func (r *Registry) Snapshot() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.job == nil {
		return Snapshot{}, false
	}
	return r.job.snapshotLocked(r.clock.Now()), true
}

// RequestInterrupt sets the active job's interruption flag. accepted is false
// only when no job is registered; first reports whether this call was the one
// that set the flag, so callers can distinguish "requested" from "already
// requested".
func (r *Registry) RequestInterrupt() (accepted, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil {
		return false, false
	}
	first = !r.job.interrupted
	r.job.interrupted = true
	r.job.progress.lastUpdatedAt = r.clock.Now()
	return true, first
}

// Job is the handle the ingestion loop uses to publish progress. All methods
// are no-ops once the job has deregistered, so a stale handle cannot corrupt
// a successor job's state.
type Job struct {
	id          uuid.UUID
	reg         *Registry
	progress    progress
	tracker     tracker
	interrupted bool
}

// ID identifies this job run; snapshots carry it so readers can tell runs
// apart.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// BeginOperation resets unit counters and stamps the start of a named
// operation.
func (j *Job) BeginOperation(name string) {
	j.mutate(func(now time.Time) {
		j.progress.begin(name, now)
		j.tracker.sessionStart = now
	})
}

// SetTotalUnits records the total amount of work once it is known.
func (j *Job) SetTotalUnits(n int) {
	j.mutate(func(now time.Time) {
		j.progress.setTotalUnits(n, now)
	})
}

// AdvanceUnit marks the in-flight unit complete and names the next one.
func (j *Job) AdvanceUnit(label, kind string) {
	j.mutate(func(now time.Time) {
		j.progress.advance(label, kind, now)
	})
}

// RecordSuccess counts a completed outbound request.
func (j *Job) RecordSuccess() {
	j.mutate(func(now time.Time) {
		j.tracker.totalRequests++
		j.progress.lastUpdatedAt = now
	})
}

// RecordBackoff counts a rate-limit response. Backoffs are statistics, not
// failures; they also count as requests.
func (j *Job) RecordBackoff() {
	j.mutate(func(now time.Time) {
		j.tracker.totalRequests++
		j.tracker.backoffEvents++
		j.progress.lastUpdatedAt = now
	})
}

// RecordError counts a non-backoff request failure.
func (j *Job) RecordError() {
	j.mutate(func(now time.Time) {
		j.tracker.totalRequests++
		j.tracker.otherErrors++
		j.progress.lastUpdatedAt = now
	})
}

// Interrupted reports whether an external caller asked the job to stop. The
// ingestion loop checks it between units, never mid-unit.
func (j *Job) Interrupted() bool {
	j.reg.mu.RLock()
	defer j.reg.mu.RUnlock()
	return j.interrupted
}

// Deregister releases the job slot. Safe to call more than once; only the
// registered handle clears the slot.
func (j *Job) Deregister() {
	j.reg.mu.Lock()
	defer j.reg.mu.Unlock()
	if j.reg.job == j {
		j.reg.job = nil
	}
}

func (j *Job) mutate(fn func(now time.Time)) {
	j.reg.mu.Lock()
	defer j.reg.mu.Unlock()
	if j.reg.job != j {
		return
	}
	fn(j.reg.clock.Now())
}

func (j *Job) snapshotLocked(now time.Time) Snapshot {
	s := Snapshot{
		JobID:                 j.id,
		Operation:             j.progress.operation,
		TotalUnits:            j.progress.totalUnits,
		CompletedUnits:        j.progress.completedUnits,
		StartedAt:             j.progress.startedAt,
		LastUpdatedAt:         j.progress.lastUpdatedAt,
		Stats:                 j.tracker.stats(now),
		InterruptionRequested: j.interrupted,
	}
	if j.progress.currentUnitLabel != "" || j.progress.currentUnitKind != "" {
		s.CurrentUnit = &UnitRef{
			Label: j.progress.currentUnitLabel,
			Kind:  j.progress.currentUnitKind,
		}
	}
	if eta, ok := j.progress.estimateRemaining(now); ok {
		s.EtaSeconds = &eta
	}
	return s
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
