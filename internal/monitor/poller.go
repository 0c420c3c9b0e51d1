// Package monitor implements the terminal status poller. It talks to the
// status server over HTTP only, so it can run on a different machine than the
// ingestion job it observes.
package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/api"
)

const defaultInterval = 2 * time.Second

// Config holds poller settings.
type Config struct {
	ServerURL string
	Interval  time.Duration
}

// Poller fetches status snapshots on an interval and renders them. On
// cancellation it forwards an interrupt request to the server before exiting,
// so stopping the monitor stops the remote job too.
type Poller struct {
	http     *resty.Client
	interval time.Duration
	out      io.Writer
	logger   *zap.Logger

	// clearScreen redraws in place; disabled in tests.
	clearScreen bool
}

// New builds a Poller for the given server.
func New(cfg Config, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		http: resty.New().
			SetBaseURL(cfg.ServerURL).
			SetTimeout(5 * time.Second),
		interval:    interval,
		out:         os.Stdout,
		logger:      logger,
		clearScreen: true,
	}
}

// Run polls until ctx is canceled. A server that cannot be reached is
// reported and retried, never fatal. When ctx is canceled the poller sends
// one interrupt request so the job stops at its next chat boundary.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			fmt.Fprintln(p.out, "stopping, forwarding interrupt to the job...")
			resp, err := p.Interrupt()
			if err != nil {
				p.logger.Warn("interrupt request failed", zap.Error(err))
				fmt.Fprintln(p.out, warnStyle.Render("could not reach the server to interrupt the job"))
				return nil
			}
			fmt.Fprintln(p.out, resp.Message)
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Interrupt asks the server to stop the active job. It uses its own timeout
// because it is typically called after the run context is already canceled.
func (p *Poller) Interrupt() (api.InterruptResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out api.InterruptResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/status/interrupt")
	if err != nil {
		return api.InterruptResponse{}, fmt.Errorf("post interrupt: %w", err)
	}
	if !resp.IsSuccess() {
		return api.InterruptResponse{}, fmt.Errorf("interrupt rejected: %s", resp.Status())
	}
	return out, nil
}

func (p *Poller) tick(ctx context.Context) {
	snap, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("status fetch failed", zap.Error(err))
		fmt.Fprintln(p.out, warnStyle.Render("cannot connect to the status server, retrying..."))
		return
	}
	if p.clearScreen {
		fmt.Fprint(p.out, "\033[2J\033[H")
	}
	fmt.Fprintln(p.out, renderSnapshot(snap))
}

func (p *Poller) fetch(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/status")
	if err != nil {
		return api.StatusResponse{}, fmt.Errorf("get status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return api.StatusResponse{}, fmt.Errorf("status endpoint responded %s", resp.Status())
	}
	return out, nil
}
