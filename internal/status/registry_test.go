package status

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by the tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistry_RegisterConflict(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newFakeClock())

	job, err := reg.Register()
	require.NoError(t, err)

	_, err = reg.Register()
	require.ErrorIs(t, err, ErrJobActive)

	job.Deregister()

	next, err := reg.Register()
	require.NoError(t, err)
	require.NotEqual(t, job.ID(), next.ID())

	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Equal(t, next.ID(), snap.JobID)
}

func TestRegistry_SnapshotInactive(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	_, ok := reg.Snapshot()
	require.False(t, ok)
}

func TestRegistry_AdvanceCountsUnits(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(clock)
	job, err := reg.Register()
	require.NoError(t, err)
	defer job.Deregister()

	job.BeginOperation("ingest")
	job.SetTotalUnits(5)
	for i := 1; i <= 5; i++ {
		clock.Advance(time.Second)
		job.AdvanceUnit(fmt.Sprintf("chat-%d", i), "group")
		snap, ok := reg.Snapshot()
		require.True(t, ok)
		require.Equal(t, i, snap.CompletedUnits)
	}

	// Advancing past the known total must not overrun it.
	job.AdvanceUnit("chat-extra", "group")
	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Equal(t, 5, snap.CompletedUnits)
	require.Equal(t, 5, snap.TotalUnits)
}

func TestRegistry_EtaUnknownThenShrinks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(clock)
	job, err := reg.Register()
	require.NoError(t, err)
	defer job.Deregister()

	job.BeginOperation("ingest")
	job.SetTotalUnits(10)

	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Nil(t, snap.EtaSeconds, "no completed units means no estimate")

	var prev float64
	for i := 1; i <= 10; i++ {
		clock.Advance(10 * time.Second)
		job.AdvanceUnit(fmt.Sprintf("chat-%d", i), "channel")
		snap, ok = reg.Snapshot()
		require.True(t, ok)
		require.NotNil(t, snap.EtaSeconds)
		if i > 1 {
			require.LessOrEqual(t, *snap.EtaSeconds, prev+1e-9)
		}
		prev = *snap.EtaSeconds
	}
	require.InDelta(t, 0, prev, 1e-9)
}

func TestRegistry_EtaUnknownWithoutTotal(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(clock)
	job, err := reg.Register()
	require.NoError(t, err)
	defer job.Deregister()

	job.BeginOperation("ingest")

	// Units advance before the dialog list has been sized. A zero estimate
	// here would read as "almost done", so no estimate may be published.
	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		job.AdvanceUnit(fmt.Sprintf("chat-%d", i), "group")
	}

	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Equal(t, 3, snap.CompletedUnits)
	require.Nil(t, snap.EtaSeconds, "no estimate while the total is unknown")

	job.SetTotalUnits(6)
	snap, ok = reg.Snapshot()
	require.True(t, ok)
	require.NotNil(t, snap.EtaSeconds)
	require.InDelta(t, 3, *snap.EtaSeconds, 1e-9)
}

func TestRegistry_InterruptIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newFakeClock())

	accepted, first := reg.RequestInterrupt()
	require.False(t, accepted, "no job registered")
	require.False(t, first)

	job, err := reg.Register()
	require.NoError(t, err)
	defer job.Deregister()

	require.False(t, job.Interrupted())

	accepted, first = reg.RequestInterrupt()
	require.True(t, accepted)
	require.True(t, first)

	accepted, first = reg.RequestInterrupt()
	require.True(t, accepted)
	require.False(t, first, "second request is a no-op")

	require.True(t, job.Interrupted())
}

func TestRegistry_InterruptClearedByNextJob(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newFakeClock())
	job, err := reg.Register()
	require.NoError(t, err)

	_, _ = reg.RequestInterrupt()
	require.True(t, job.Interrupted())
	job.Deregister()

	next, err := reg.Register()
	require.NoError(t, err)
	defer next.Deregister()
	require.False(t, next.Interrupted())

	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.False(t, snap.InterruptionRequested)
}

func TestRegistry_StaleHandleCannotMutateSuccessor(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newFakeClock())
	old, err := reg.Register()
	require.NoError(t, err)
	old.Deregister()

	next, err := reg.Register()
	require.NoError(t, err)
	defer next.Deregister()
	next.BeginOperation("ingest")
	next.SetTotalUnits(3)

	// Updates through the deregistered handle must be dropped.
	old.AdvanceUnit("ghost", "channel")
	old.RecordBackoff()
	old.Deregister()

	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Equal(t, next.ID(), snap.JobID)
	require.Equal(t, 0, snap.CompletedUnits)
	require.Zero(t, snap.Stats.TotalRequests)
}

// TestRegistry_SnapshotAtomicity hammers Snapshot while the job advances and
// checks that the current-unit label never runs ahead of the completed count.
func TestRegistry_SnapshotAtomicity(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	job, err := reg.Register()
	require.NoError(t, err)

	const units = 500
	job.BeginOperation("ingest")
	job.SetTotalUnits(units)

	// Readers report violations over the channel; the assertions happen on
	// the test goroutine after wg.Wait.
	done := make(chan struct{})
	violations := make(chan string, 64)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, ok := reg.Snapshot()
				if !ok {
					continue
				}
				if snap.CurrentUnit == nil {
					continue
				}
				var unit int
				if _, err := fmt.Sscanf(snap.CurrentUnit.Label, "chat-%d", &unit); err != nil {
					select {
					case violations <- fmt.Sprintf("bad label %q: %v", snap.CurrentUnit.Label, err):
					default:
					}
					return
				}
				// advance(i) sets completed=i and current=chat-(i+1).
				if snap.CompletedUnits != unit-1 {
					select {
					case violations <- fmt.Sprintf("label %q paired with completed=%d", snap.CurrentUnit.Label, snap.CompletedUnits):
					default:
					}
					return
				}
			}
		}()
	}

	for i := 1; i <= units; i++ {
		job.AdvanceUnit(fmt.Sprintf("chat-%d", i+1), "group")
	}
	close(done)
	wg.Wait()
	job.Deregister()

	close(violations)
	for v := range violations {
		t.Error(v)
	}
}

// TestRegistry_Scenario replays the canonical run: 10 chats total, 4 done,
// 2 backoffs and 50 successes recorded.
func TestRegistry_Scenario(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(clock)
	job, err := reg.Register()
	require.NoError(t, err)
	defer job.Deregister()

	job.BeginOperation("ingest")
	job.SetTotalUnits(10)
	for i := 1; i <= 4; i++ {
		clock.Advance(30 * time.Second)
		job.AdvanceUnit("chatA", "channel")
	}
	job.RecordBackoff()
	job.RecordBackoff()
	for range 50 {
		job.RecordSuccess()
	}

	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Equal(t, "ingest", snap.Operation)
	require.Equal(t, 4, snap.CompletedUnits)
	require.Equal(t, 10, snap.TotalUnits)
	require.EqualValues(t, 2, snap.Stats.BackoffEvents)
	require.EqualValues(t, 52, snap.Stats.TotalRequests)
	require.NotNil(t, snap.EtaSeconds)
	// 120s elapsed over 4 units leaves 6 units at 30s each.
	require.InDelta(t, 180, *snap.EtaSeconds, 1e-9)
	require.InDelta(t, float64(2)/52, snap.Stats.BackoffRatio, 1e-9)
	require.InDelta(t, 120, snap.Stats.DurationSeconds, 1e-9)
	require.InDelta(t, 26, snap.Stats.RequestsPerMinute, 1e-9)
}

func TestStats_RatesZeroWhenFresh(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(clock)
	job, err := reg.Register()
	require.NoError(t, err)
	defer job.Deregister()

	job.RecordSuccess()
	snap, ok := reg.Snapshot()
	require.True(t, ok)
	require.Zero(t, snap.Stats.RequestsPerMinute, "sub-second sessions report no rate")

	clock.Advance(2 * time.Second)
	snap, ok = reg.Snapshot()
	require.True(t, ok)
	require.Greater(t, snap.Stats.RequestsPerMinute, 0.0)
}

func TestSnapshot_Fraction(t *testing.T) {
	t.Parallel()

	require.Zero(t, Snapshot{}.Fraction())
	require.InDelta(t, 0.4, Snapshot{TotalUnits: 10, CompletedUnits: 4}.Fraction(), 1e-9)
	require.InDelta(t, 1.0, Snapshot{TotalUnits: 3, CompletedUnits: 9}.Fraction(), 1e-9)
}
