// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestRequestsTotal *prometheus.CounterVec
	ingestChatsTotal    *prometheus.CounterVec
	ingestMessagesTotal prometheus.Counter
	ingestJobActive     prometheus.Gauge
	statusRequestsTotal *prometheus.CounterVec

	once sync.Once
)

// Request outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeBackoff = "backoff"
	OutcomeError   = "error"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegrampars_requests_total",
				Help: "Outbound gateway requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestChatsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegrampars_chats_total",
				Help: "Chats processed per ingestion run, labeled by result.",
			},
			[]string{"result"},
		)

		ingestMessagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "telegrampars_messages_total",
				Help: "Messages stored or updated across all runs.",
			},
		)

		ingestJobActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "telegrampars_job_active",
				Help: "Whether an ingestion job currently holds the registry slot.",
			},
		)

		statusRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegrampars_status_requests_total",
				Help: "Status API requests, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts an outbound gateway request by outcome.
func ObserveRequest(outcome string) {
	ingestRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveChat counts a processed chat by result (parsed, skipped, error).
func ObserveChat(result string) {
	ingestChatsTotal.WithLabelValues(result).Inc()
}

// AddMessages counts stored or updated messages.
func AddMessages(n int) {
	if n > 0 {
		ingestMessagesTotal.Add(float64(n))
	}
}

// SetJobActive flips the active-job gauge.
func SetJobActive(active bool) {
	if active {
		ingestJobActive.Set(1)
		return
	}
	ingestJobActive.Set(0)
}

// ObserveStatusRequest counts a status API hit.
func ObserveStatusRequest(endpoint string) {
	statusRequestsTotal.WithLabelValues(endpoint).Inc()
}
