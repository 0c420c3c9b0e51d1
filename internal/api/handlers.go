package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/metrics"
	"github.com/skywinder/telegram-pars/internal/status"
)

// StatusResponse is the body of GET /api/status. The optional fields are
// present only while a job is active; InterruptionRequested is always set and
// is false when no job is running.
type StatusResponse struct {
	Active                bool             `json:"active"`
	Operation             string           `json:"operation,omitempty"`
	CurrentUnit           *status.UnitRef  `json:"currentUnit,omitempty"`
	Progress              *ProgressSection `json:"progress,omitempty"`
	Stats                 *status.Stats    `json:"stats,omitempty"`
	LastUpdatedAt         *time.Time       `json:"lastUpdatedAt,omitempty"`
	InterruptionRequested bool             `json:"interruptionRequested"`
}

// ProgressSection carries unit counts. EtaSeconds stays null until at least
// one unit has completed.
type ProgressSection struct {
	Total      int      `json:"total"`
	Completed  int      `json:"completed"`
	EtaSeconds *float64 `json:"etaSeconds"`
}

// InterruptResponse is the body of POST /api/status/interrupt. Accepted is
// false only when no job is active; repeating the request on an active job is
// a no-op that still reports accepted.
type InterruptResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// getStatus handles GET /api/status. With no active job it returns
// {"active": false, "interruptionRequested": false}; otherwise the full
// snapshot of the running job.
func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	metrics.ObserveStatusRequest("status")

	snap, ok := s.registry.Snapshot()
	if !ok {
		writeJSON(w, http.StatusOK, StatusResponse{Active: false})
		return
	}
	lastUpdated := snap.LastUpdatedAt
	writeJSON(w, http.StatusOK, StatusResponse{
		Active:      true,
		Operation:   snap.Operation,
		CurrentUnit: snap.CurrentUnit,
		Progress: &ProgressSection{
			Total:      snap.TotalUnits,
			Completed:  snap.CompletedUnits,
			EtaSeconds: snap.EtaSeconds,
		},
		Stats:                 &snap.Stats,
		LastUpdatedAt:         &lastUpdated,
		InterruptionRequested: snap.InterruptionRequested,
	})
}

// postInterrupt handles POST /api/status/interrupt. An inactive registry is
// not an error; the response simply reports the request was not accepted.
func (s *Server) postInterrupt(w http.ResponseWriter, _ *http.Request) {
	metrics.ObserveStatusRequest("interrupt")

	accepted, first := s.registry.RequestInterrupt()
	resp := InterruptResponse{Accepted: accepted}
	switch {
	case !accepted:
		resp.Message = "no active job"
	case first:
		resp.Message = "interruption requested, the job will stop after the current chat"
		s.logger.Info("interruption requested via API")
	default:
		resp.Message = "interruption already requested"
	}
	writeJSON(w, http.StatusOK, resp)
}

// getChats handles GET /api/chats.
func (s *Server) getChats(w http.ResponseWriter, _ *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	chats, err := s.history.ChatStatistics()
	if err != nil {
		s.logger.Error("chat statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load chat statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// getChanges handles GET /api/changes?days=N (default 7).
func (s *Server) getChanges(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = val
	}
	summary, err := s.history.RecentChanges(days)
	if err != nil {
		s.logger.Error("recent changes failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load changes")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// search handles GET /api/search?q=&chat_id=&limit=.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	var chatID *int64
	if raw := q.Get("chat_id"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chat_id")
			return
		}
		chatID = &val
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}

	results, err := s.history.SearchMessages(query, chatID, limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// getWatch handles GET /api/watch: the state of the change-monitoring loop.
func (s *Server) getWatch(w http.ResponseWriter, _ *http.Request) {
	metrics.ObserveStatusRequest("watch")

	if s.watchStatus == nil {
		writeError(w, http.StatusServiceUnavailable, "watch is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.watchStatus())
}

// getRecentEvents handles GET /api/events/recent?limit=N (default all
// buffered, oldest first).
func (s *Server) getRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "watch is not running")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}
	events := s.events.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// streamEvents handles GET /api/events: change events pushed to the client as
// server-sent events, with a keep-alive comment while the log is quiet. The
// connection stays open until the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "watch is not running")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the headers go out so no event published after the
	// client sees the response can be missed.
	events, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Action, payload)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
