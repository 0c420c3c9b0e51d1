// Package api exposes the HTTP interface for the ingestion service: the live
// status endpoints polled by the terminal monitor, the interrupt command, and
// the dashboard's read-only history queries.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/metrics"
	"github.com/skywinder/telegram-pars/internal/status"
	"github.com/skywinder/telegram-pars/internal/store"
	"github.com/skywinder/telegram-pars/internal/watch"
)

// HistoryReader answers the dashboard's queries against stored history.
type HistoryReader interface {
	ChatStatistics() ([]store.ChatStats, error)
	RecentChanges(days int) (store.ChangesSummary, error)
	SearchMessages(query string, chatID *int64, limit int) ([]store.SearchResult, error)
}

// Server wires HTTP handlers to the status registry and the history store.
// The history reader may be nil, in which case dashboard endpoints respond
// 503 while the status endpoints keep working. The watch endpoints respond
// 503 until AttachWatch is called.
type Server struct {
	router      chi.Router
	registry    *status.Registry
	history     HistoryReader
	events      *watch.Hub
	watchStatus func() watch.Status
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(registry *status.Registry, history HistoryReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		history:  history,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(30 * time.Second))

		r.Get("/healthz", s.healthz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.getStatus)
			r.Post("/status/interrupt", s.postInterrupt)
			r.Get("/chats", s.getChats)
			r.Get("/changes", s.getChanges)
			r.Get("/search", s.search)
			r.Get("/watch", s.getWatch)
			r.Get("/events/recent", s.getRecentEvents)
		})
	})

	// The event stream stays open for the client's lifetime, so it lives
	// outside the request timeout.
	r.Get("/api/events", s.streamEvents)

	s.router = r
	return s
}

// AttachWatch exposes the watch loop's status and event stream. Must be
// called before the server starts handling requests.
func (s *Server) AttachWatch(hub *watch.Hub, statusFn func() watch.Status) {
	s.events = hub
	s.watchStatus = statusFn
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the event stream working through the logging wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, map[string]string{"error": msg})
}
