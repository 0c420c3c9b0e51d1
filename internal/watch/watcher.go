// Package watch runs the change-monitoring loop: full re-scans of every chat
// on a fixed interval, with each newly detected edit or deletion published to
// subscribers through a Hub. Monitoring is pull-based; the gateway exposes no
// push events, so freshness is bounded by the scan interval.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/ingest"
	"github.com/skywinder/telegram-pars/internal/store"
)

// Scanner runs one full re-scan of all chats. *ingest.Runner satisfies it.
type Scanner interface {
	Run(ctx context.Context) (ingest.Summary, error)
}

// ChangeLog reads the persisted change audit. *store.Store satisfies it.
type ChangeLog interface {
	LatestChangeID() (uint, error)
	ChangesAfter(after uint, limit int) ([]store.ChangeEvent, error)
}

// Config controls the watch loop.
type Config struct {
	// Interval is the pause between scan cycles.
	Interval time.Duration
}

// Status describes the watch loop for the dashboard.
type Status struct {
	Active      bool       `json:"active"`
	Cycles      int        `json:"cycles"`
	EditsSeen   int        `json:"editsSeen"`
	DeletesSeen int        `json:"deletesSeen"`
	LastCycleAt *time.Time `json:"lastCycleAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Watcher drives repeated scans and publishes the changes they uncover.
type Watcher struct {
	scanner Scanner
	changes ChangeLog
	hub     *Hub
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu     sync.Mutex
	status Status
	lastID uint
}

// New wires a Watcher.
func New(scanner Scanner, changes ChangeLog, hub *Hub, cfg Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Watcher{
		scanner: scanner,
		changes: changes,
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run re-scans all chats on the configured interval and publishes every edit
// or deletion recorded since the previous cycle. Changes logged before Run
// started are not replayed. Run returns nil when ctx is canceled; a cycle's
// failure is reported through Status and the loop keeps going.
func (w *Watcher) Run(ctx context.Context) error {
	last, err := w.changes.LatestChangeID()
	if err != nil {
		return fmt.Errorf("seed change cursor: %w", err)
	}

	w.mu.Lock()
	w.lastID = last
	w.status.Active = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.status.Active = false
		w.mu.Unlock()
	}()

	w.logger.Info("watch started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Uint("change_cursor", last))

	for {
		w.cycle(ctx)
		if err := w.sleep(ctx, w.cfg.Interval); err != nil {
			w.logger.Info("watch stopped")
			return nil
		}
	}
}

// Status reports the loop's current state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// cycle runs one scan and publishes the audit rows it produced. The scan gets
// a detached context so an interruption lands at a chat boundary instead of
// severing an in-flight request; the surrounding loop still observes ctx.
func (w *Watcher) cycle(ctx context.Context) {
	if _, err := w.scanner.Run(context.WithoutCancel(ctx)); err != nil {
		w.logger.Error("watch scan failed", zap.Error(err))
		w.fail(err)
		return
	}

	w.mu.Lock()
	cursor := w.lastID
	w.mu.Unlock()

	events, err := w.changes.ChangesAfter(cursor, 0)
	if err != nil {
		w.logger.Error("read change log failed", zap.Error(err))
		w.fail(err)
		return
	}

	var edits, deletes int
	for _, ev := range events {
		w.hub.Publish(ev)
		switch ev.Action {
		case store.ActionEdited:
			edits++
		case store.ActionDeleted:
			deletes++
		}
		if ev.ID > cursor {
			cursor = ev.ID
		}
		w.logger.Info("change detected",
			zap.String("action", ev.Action),
			zap.Int64("chat_id", ev.ChatID),
			zap.String("chat", ev.ChatName),
			zap.Int64("message_id", ev.MessageID))
	}

	at := w.now()
	w.mu.Lock()
	w.lastID = cursor
	w.status.Cycles++
	w.status.EditsSeen += edits
	w.status.DeletesSeen += deletes
	w.status.LastCycleAt = &at
	w.status.LastError = ""
	w.mu.Unlock()
}

func (w *Watcher) fail(err error) {
	w.mu.Lock()
	w.status.LastError = err.Error()
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
