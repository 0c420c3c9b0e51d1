package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skywinder/telegram-pars/internal/ingest"
	"github.com/skywinder/telegram-pars/internal/store"
)

type fakeScanner struct {
	runs int

	// errs[i] is returned on run i+1; nil beyond the slice.
	errs  []error
	onRun func(run int)
}

func (f *fakeScanner) Run(_ context.Context) (ingest.Summary, error) {
	f.runs++
	if f.onRun != nil {
		f.onRun(f.runs)
	}
	if f.runs <= len(f.errs) && f.errs[f.runs-1] != nil {
		return ingest.Summary{}, f.errs[f.runs-1]
	}
	return ingest.Summary{}, nil
}

type fakeChangeLog struct {
	mu   sync.Mutex
	rows []store.ChangeEvent
}

func (f *fakeChangeLog) add(ev store.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, ev)
}

func (f *fakeChangeLog) LatestChangeID() (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last uint
	for _, r := range f.rows {
		if r.ID > last {
			last = r.ID
		}
	}
	return last, nil
}

func (f *fakeChangeLog) ChangesAfter(after uint, _ int) ([]store.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ChangeEvent
	for _, r := range f.rows {
		if r.ID > after && (r.Action == store.ActionEdited || r.Action == store.ActionDeleted) {
			out = append(out, r)
		}
	}
	return out, nil
}

// stopAfter builds a sleep stub that ends the loop after n cycles.
func stopAfter(n int) func(context.Context, time.Duration) error {
	cycles := 0
	return func(_ context.Context, _ time.Duration) error {
		cycles++
		if cycles >= n {
			return context.Canceled
		}
		return nil
	}
}

func TestWatcher_PublishesOnlyNewChanges(t *testing.T) {
	t.Parallel()

	log := &fakeChangeLog{}
	// History from before the loop started must not be replayed.
	log.add(store.ChangeEvent{ID: 1, Action: store.ActionEdited, ChatID: 100, MessageID: 1})

	scanner := &fakeScanner{}
	scanner.onRun = func(run int) {
		if run != 1 {
			return
		}
		log.add(store.ChangeEvent{ID: 2, Action: store.ActionEdited, ChatID: 100, ChatName: "team", MessageID: 7, OldText: "hello", NewText: "hello, edited"})
		log.add(store.ChangeEvent{ID: 3, Action: store.ActionDeleted, ChatID: 200, ChatName: "news", MessageID: 8, OldText: "gone"})
		log.add(store.ChangeEvent{ID: 4, Action: store.ActionCreated, ChatID: 200, MessageID: 9})
	}

	hub := NewHub()
	events, cancelSub := hub.Subscribe()
	defer cancelSub()

	w := New(scanner, log, hub, Config{Interval: time.Minute}, nil)
	w.sleep = stopAfter(2)

	require.NoError(t, w.Run(context.Background()))

	st := w.Status()
	require.False(t, st.Active, "loop has exited")
	require.Equal(t, 2, st.Cycles)
	require.Equal(t, 1, st.EditsSeen)
	require.Equal(t, 1, st.DeletesSeen)
	require.NotNil(t, st.LastCycleAt)

	require.Len(t, events, 2, "the pre-existing row and the creation row stay quiet")
	edit := <-events
	require.Equal(t, store.ActionEdited, edit.Action)
	require.EqualValues(t, 7, edit.MessageID)
	require.Equal(t, "hello, edited", edit.NewText)
	del := <-events
	require.Equal(t, store.ActionDeleted, del.Action)
	require.Equal(t, "news", del.ChatName)
}

func TestWatcher_CursorDoesNotRedeliver(t *testing.T) {
	t.Parallel()

	log := &fakeChangeLog{}
	scanner := &fakeScanner{}
	scanner.onRun = func(run int) {
		log.add(store.ChangeEvent{ID: uint(run), Action: store.ActionEdited, ChatID: 100, MessageID: int64(run)})
	}

	hub := NewHub()
	events, cancelSub := hub.Subscribe()
	defer cancelSub()

	w := New(scanner, log, hub, Config{Interval: time.Minute}, nil)
	w.sleep = stopAfter(3)

	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, 3, scanner.runs)

	// One event per cycle, each delivered exactly once.
	require.Len(t, events, 3)
	for want := int64(1); want <= 3; want++ {
		ev := <-events
		require.Equal(t, want, ev.MessageID)
	}
}

func TestWatcher_ScanErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	log := &fakeChangeLog{}
	boom := errors.New("gateway exploded")
	scanner := &fakeScanner{errs: []error{boom}}

	w := New(scanner, log, NewHub(), Config{Interval: time.Minute}, nil)

	var between []Status
	cycles := 0
	w.sleep = func(_ context.Context, _ time.Duration) error {
		between = append(between, w.Status())
		cycles++
		if cycles >= 2 {
			return context.Canceled
		}
		return nil
	}

	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, 2, scanner.runs, "the loop survived the failed cycle")

	require.Len(t, between, 2)
	require.Equal(t, boom.Error(), between[0].LastError)
	require.Zero(t, between[0].Cycles, "a failed cycle does not count")
	require.Empty(t, between[1].LastError, "a clean cycle clears the error")
	require.Equal(t, 1, between[1].Cycles)
}

func TestHub_SubscribeAndCancel(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, cancel := hub.Subscribe()

	hub.Publish(store.ChangeEvent{ID: 1, Action: store.ActionEdited})
	ev := <-ch
	require.EqualValues(t, 1, ev.ID)

	cancel()
	hub.Publish(store.ChangeEvent{ID: 2, Action: store.ActionDeleted})
	require.Empty(t, ch, "canceled listeners receive nothing")
}

func TestHub_RecentTrimsToLimit(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	for i := 1; i <= recentLimit+10; i++ {
		hub.Publish(store.ChangeEvent{ID: uint(i), Action: store.ActionEdited})
	}

	recent := hub.Recent(0)
	require.Len(t, recent, recentLimit)
	require.EqualValues(t, 11, recent[0].ID, "oldest overflow was dropped")
	require.EqualValues(t, recentLimit+10, recent[len(recent)-1].ID)

	last5 := hub.Recent(5)
	require.Len(t, last5, 5)
	require.EqualValues(t, recentLimit+6, last5[0].ID)
}

func TestHub_SlowListenerDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 1; i <= listenerDepth+5; i++ {
		hub.Publish(store.ChangeEvent{ID: uint(i), Action: store.ActionEdited})
	}

	require.Len(t, ch, listenerDepth, "overflow is dropped, not blocked on")
	ev := <-ch
	require.EqualValues(t, 1, ev.ID)
}
