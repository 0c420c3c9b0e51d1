// Package ingest runs the chat-history ingestion job: it walks every dialog,
// stores messages with change tracking, and publishes progress through the
// status registry. Interruption is cooperative and checked only at chat
// boundaries so a chat's data is never half-written.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/metrics"
	"github.com/skywinder/telegram-pars/internal/status"
	"github.com/skywinder/telegram-pars/internal/store"
	"github.com/skywinder/telegram-pars/internal/telegram"
)

// Gateway reads chat history from the remote messaging API.
type Gateway interface {
	ListDialogs(ctx context.Context) ([]telegram.Dialog, error)
	Messages(ctx context.Context, req telegram.MessagesRequest) (telegram.MessagesPage, error)
}

// HistoryStore persists messages and the change log between runs.
type HistoryStore interface {
	SaveChat(chat store.Chat) error
	SaveUser(user store.User) error
	SaveMessageWithHistory(msg store.Message, sessionID string) (created, edited bool, err error)
	MarkDeletedMessages(chatID int64, presentIDs []int64, sessionID string) (int64, error)
	CachedMessageCount(chatID int64) (int64, error)
	LastMessageDate(chatID int64) (time.Time, bool, error)
	CreateScanSession() (string, error)
	CloseScanSession(id string, totals store.SessionTotals) error
}

// Config controls a single run.
type Config struct {
	// Operation labels the run in status snapshots ("ingest" or "changes").
	Operation string
	// FullScan ignores cached history and re-reads every chat, which is what
	// detects edits and deletions.
	FullScan bool
	// ChatDelay is the pause between chats.
	ChatDelay time.Duration
	// MaxBackoff caps how long a single rate-limit pause may be; longer
	// demands abort the request.
	MaxBackoff time.Duration
	// BackoffMultiplier stretches repeated pauses for the same request.
	BackoffMultiplier float64
	// MaxAttempts bounds retries per request.
	MaxAttempts int
}

// Summary reports what a run accomplished.
type Summary struct {
	ChatsProcessed int
	ChatsSkipped   int
	MessagesSaved  int
	EditsDetected  int
	DeletesFound   int
	Interrupted    bool
}

// Runner executes ingestion runs. One Runner may be reused, but only one run
// can be active per process (enforced by the registry).
type Runner struct {
	gateway  Gateway
	store    HistoryStore
	registry *status.Registry
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New wires a Runner.
func New(gateway Gateway, hs HistoryStore, registry *status.Registry, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Operation == "" {
		cfg.Operation = "ingest"
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1.5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Runner{
		gateway:  gateway,
		store:    hs,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run executes one ingestion pass. It registers with the status registry,
// refuses to start when another job is active, and deregisters on every exit
// path. An interruption request stops the loop after the current chat.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	job, err := r.registry.Register()
	if err != nil {
		return Summary{}, fmt.Errorf("register ingestion job: %w", err)
	}
	metrics.SetJobActive(true)
	defer func() {
		job.Deregister()
		metrics.SetJobActive(false)
	}()

	job.BeginOperation(r.cfg.Operation)

	session, err := r.store.CreateScanSession()
	if err != nil {
		return Summary{}, fmt.Errorf("open scan session: %w", err)
	}

	var summary Summary
	defer func() {
		totals := store.SessionTotals{
			TotalChats:    summary.ChatsProcessed,
			TotalMessages: summary.MessagesSaved,
		}
		if cerr := r.store.CloseScanSession(session, totals); cerr != nil {
			r.logger.Warn("close scan session failed", zap.Error(cerr))
		}
		r.logFinalStats(summary)
	}()

	var dialogs []telegram.Dialog
	err = r.safeCall(ctx, job, func(ctx context.Context) error {
		var derr error
		dialogs, derr = r.gateway.ListDialogs(ctx)
		return derr
	})
	if err != nil {
		return summary, fmt.Errorf("list dialogs: %w", err)
	}
	job.SetTotalUnits(len(dialogs))
	r.logger.Info("dialogs discovered", zap.Int("count", len(dialogs)))

	for i, dialog := range dialogs {
		if job.Interrupted() {
			summary.Interrupted = true
			r.logger.Info("interruption requested, stopping at chat boundary",
				zap.Int("completed", i), zap.Int("total", len(dialogs)))
			break
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		if err := r.processChat(ctx, job, dialog, session, &summary); err != nil {
			summary.ChatsSkipped++
			r.logger.Error("chat ingestion failed",
				zap.Int64("chat_id", dialog.ID),
				zap.String("chat", dialog.Name),
				zap.Error(err))
			metrics.ObserveChat("error")
		}

		// Close the unit and name the next one before the pause, so pollers
		// see the boundary as a single update.
		next := telegram.Dialog{}
		if i+1 < len(dialogs) {
			next = dialogs[i+1]
		}
		job.AdvanceUnit(next.Name, next.Kind)

		if r.cfg.ChatDelay > 0 && i+1 < len(dialogs) {
			if err := r.sleep(ctx, r.cfg.ChatDelay); err != nil {
				summary.Interrupted = true
				break
			}
		}
	}

	return summary, nil
}

func (r *Runner) processChat(
	ctx context.Context,
	job *status.Job,
	dialog telegram.Dialog,
	session string,
	summary *Summary,
) error {
	if err := r.store.SaveChat(store.Chat{ID: dialog.ID, Name: dialog.Name, Kind: dialog.Kind}); err != nil {
		return err
	}

	var since time.Time
	fullScan := r.cfg.FullScan
	if !fullScan {
		cached, err := r.store.CachedMessageCount(dialog.ID)
		if err != nil {
			return err
		}
		if cached > 0 {
			last, ok, err := r.store.LastMessageDate(dialog.ID)
			if err != nil {
				return err
			}
			if ok {
				since = last
				r.logger.Debug("incremental fetch",
					zap.Int64("chat_id", dialog.ID),
					zap.Time("since", since),
					zap.Int64("cached", cached))
			}
		}
	}

	var present []int64
	cursor := ""
	for {
		var page telegram.MessagesPage
		err := r.safeCall(ctx, job, func(ctx context.Context) error {
			var perr error
			page, perr = r.gateway.Messages(ctx, telegram.MessagesRequest{
				ChatID: dialog.ID,
				Since:  since,
				Cursor: cursor,
			})
			return perr
		})
		if err != nil {
			return fmt.Errorf("fetch page: %w", err)
		}

		for _, m := range page.Messages {
			if m.SenderID != 0 {
				if err := r.store.SaveUser(store.User{ID: m.SenderID, Username: m.Sender}); err != nil {
					return err
				}
			}
			created, edited, err := r.store.SaveMessageWithHistory(store.Message{
				ID:        m.ID,
				ChatID:    dialog.ID,
				SenderID:  m.SenderID,
				Date:      m.Date,
				Text:      m.Text,
				MediaType: m.MediaType,
				ReplyToID: m.ReplyToID,
				Views:     m.Views,
				Forwards:  m.Forwards,
			}, session)
			if err != nil {
				return err
			}
			if created {
				summary.MessagesSaved++
			}
			if edited {
				summary.EditsDetected++
			}
			present = append(present, m.ID)
		}
		metrics.AddMessages(len(page.Messages))

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	// Deletions are only detectable when the whole chat was re-read.
	if fullScan {
		deleted, err := r.store.MarkDeletedMessages(dialog.ID, present, session)
		if err != nil {
			return err
		}
		summary.DeletesFound += int(deleted)
	}

	summary.ChatsProcessed++
	metrics.ObserveChat("parsed")
	return nil
}

// safeCall runs one gateway request with bounded retries. Rate-limit
// responses are recorded as backoff events and honored with a multiplied,
// capped pause; other failures are recorded as errors and retried with
// exponential spacing.
func (r *Runner) safeCall(ctx context.Context, job *status.Job, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			job.RecordSuccess()
			metrics.ObserveRequest(metrics.OutcomeSuccess)
			return nil
		}

		if retryAfter, ok := telegram.AsBackoff(err); ok {
			job.RecordBackoff()
			metrics.ObserveRequest(metrics.OutcomeBackoff)
			pause := time.Duration(float64(retryAfter) * math.Pow(r.cfg.BackoffMultiplier, float64(attempt)))
			if pause > r.cfg.MaxBackoff {
				return fmt.Errorf("backoff %s exceeds cap %s: %w", pause, r.cfg.MaxBackoff, err)
			}
			if attempt >= r.cfg.MaxAttempts {
				return fmt.Errorf("rate limited after %d attempts: %w", attempt, err)
			}
			r.logger.Warn("gateway backoff",
				zap.Duration("pause", pause),
				zap.Int("attempt", attempt))
			if serr := r.sleep(ctx, pause); serr != nil {
				return serr
			}
			continue
		}

		job.RecordError()
		metrics.ObserveRequest(metrics.OutcomeError)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt >= r.cfg.MaxAttempts {
			return fmt.Errorf("request failed after %d attempts: %w", attempt, err)
		}
		if serr := r.sleep(ctx, time.Duration(1<<attempt)*time.Second); serr != nil {
			return serr
		}
	}
}

func (r *Runner) logFinalStats(summary Summary) {
	snap, ok := r.registry.Snapshot()
	fields := []zap.Field{
		zap.Int("chats_processed", summary.ChatsProcessed),
		zap.Int("chats_skipped", summary.ChatsSkipped),
		zap.Int("messages_saved", summary.MessagesSaved),
		zap.Int("edits_detected", summary.EditsDetected),
		zap.Int("deletes_found", summary.DeletesFound),
		zap.Bool("interrupted", summary.Interrupted),
	}
	if ok {
		fields = append(fields,
			zap.Int64("requests", snap.Stats.TotalRequests),
			zap.Int64("backoffs", snap.Stats.BackoffEvents),
			zap.Float64("duration_seconds", snap.Stats.DurationSeconds),
		)
	}
	r.logger.Info("ingestion finished", fields...)
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
