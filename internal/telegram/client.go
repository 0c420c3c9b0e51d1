// Package telegram implements the HTTP gateway client used to read a user's
// chat history. The gateway is an external collaborator; this package only
// paces requests, decodes payloads, and classifies rate-limit responses so
// the ingestion loop can count them.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dialog is one chat the account can read.
type Dialog struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Message is a single message as returned by the gateway.
type Message struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
	SenderID  int64     `json:"sender_id"`
	Sender    string    `json:"sender"`
	MediaType string    `json:"media_type"`
	ReplyToID int64     `json:"reply_to_id"`
	Views     int64     `json:"views"`
	Forwards  int64     `json:"forwards"`
}

// MessagesRequest selects a page of a chat's history. A zero Since fetches
// from the beginning; Cursor continues a previous page.
type MessagesRequest struct {
	ChatID int64
	Since  time.Time
	Cursor string
	Limit  int
}

// MessagesPage is one page of history. An empty NextCursor means the chat is
// exhausted.
type MessagesPage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor"`
}

// Config holds client settings.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	PageSize          int
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the gateway with token-bucket pacing on every call.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *zap.Logger
}

// NewClient builds a paced gateway client. Retries are left to the caller so
// backoff events can be recorded per attempt.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "telegram-pars/1.0")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		pageSize: cfg.PageSize,
		logger:   logger,
	}
}

// ListDialogs fetches all chats visible to the account.
func (c *Client) ListDialogs(ctx context.Context) ([]Dialog, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var payload struct {
		Dialogs []Dialog `json:"dialogs"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/v1/dialogs")
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return payload.Dialogs, nil
}

// Messages fetches one page of a chat's history.
func (c *Client) Messages(ctx context.Context, req MessagesRequest) (MessagesPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return MessagesPage{}, fmt.Errorf("rate limit wait: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	r := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit))
	if !req.Since.IsZero() {
		r.SetQueryParam("since", req.Since.UTC().Format(time.RFC3339))
	}
	if req.Cursor != "" {
		r.SetQueryParam("cursor", req.Cursor)
	}

	var page MessagesPage
	resp, err := r.SetResult(&page).
		Get(fmt.Sprintf("/v1/chats/%d/messages", req.ChatID))
	if err != nil {
		return MessagesPage{}, fmt.Errorf("fetch messages for chat %d: %w", req.ChatID, err)
	}
	if err := classify(resp); err != nil {
		return MessagesPage{}, err
	}
	return page, nil
}

func classify(resp *resty.Response) error {
	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return &BackoffError{RetryAfter: retryAfter(resp)}
	default:
		return fmt.Errorf("gateway responded %s", resp.Status())
	}
}

func retryAfter(resp *resty.Response) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
