package status

import "time"

// progress describes what the job is doing right now. It is mutated only by
// the job's own goroutine through the Job handle; the Registry mutex makes
// each mutation visible to readers as a single atomic update.
type progress struct {
	operation        string
	totalUnits       int
	completedUnits   int
	currentUnitLabel string
	currentUnitKind  string
	startedAt        time.Time
	lastUpdatedAt    time.Time
}

func (p *progress) begin(operation string, now time.Time) {
	p.operation = operation
	p.totalUnits = 0
	p.completedUnits = 0
	p.currentUnitLabel = ""
	p.currentUnitKind = ""
	p.startedAt = now
	p.lastUpdatedAt = now
}

func (p *progress) setTotalUnits(n int, now time.Time) {
	if n < 0 {
		n = 0
	}
	p.totalUnits = n
	p.lastUpdatedAt = now
}

// advance closes the books on the unit in flight and points the current-unit
// fields at the next one, in that order, so a reader never sees the new label
// paired with a stale count.
func (p *progress) advance(label, kind string, now time.Time) {
	p.completedUnits++
	if p.totalUnits > 0 && p.completedUnits > p.totalUnits {
		p.completedUnits = p.totalUnits
	}
	p.currentUnitLabel = label
	p.currentUnitKind = kind
	p.lastUpdatedAt = now
}

// estimateRemaining extrapolates linearly from the average time per completed
// unit. It reports ok=false rather than zero when nothing has completed yet
// or the total is still unknown, since zero would falsely imply imminent
// completion. The estimate assumes uniform per-unit cost; chats vary wildly
// but average out over a run.
func (p *progress) estimateRemaining(now time.Time) (seconds float64, ok bool) {
	if p.completedUnits == 0 || p.totalUnits <= 0 {
		return 0, false
	}
	elapsed := now.Sub(p.startedAt).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	remaining := p.totalUnits - p.completedUnits
	if remaining < 0 {
		remaining = 0
	}
	return elapsed / float64(p.completedUnits) * float64(remaining), true
}
