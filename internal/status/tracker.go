package status

import "time"

// tracker accumulates outbound request outcomes for the active job. Counters
// only grow; derived rates are computed at snapshot time so concurrent reads
// never mutate shared state. Access is serialized by the Registry mutex.
type tracker struct {
	totalRequests int64
	backoffEvents int64
	otherErrors   int64
	sessionStart  time.Time
}

// Stats is an immutable copy of the tracker counters plus rates derived at
// read time.
type Stats struct {
	TotalRequests int64 `json:"totalRequests"`
	BackoffEvents int64 `json:"backoffEvents"`
	OtherErrors   int64 `json:"otherErrors"`

	DurationSeconds   float64 `json:"durationSeconds"`
	RequestsPerMinute float64 `json:"requestsPerMinute"`
	BackoffRatio      float64 `json:"backoffRatio"`
}

func (t *tracker) stats(now time.Time) Stats {
	s := Stats{
		TotalRequests: t.totalRequests,
		BackoffEvents: t.backoffEvents,
		OtherErrors:   t.otherErrors,
	}
	elapsed := now.Sub(t.sessionStart)
	s.DurationSeconds = elapsed.Seconds()
	if elapsed >= time.Second {
		s.RequestsPerMinute = float64(t.totalRequests) / elapsed.Minutes()
	}
	if t.totalRequests > 0 {
		s.BackoffRatio = float64(t.backoffEvents) / float64(t.totalRequests)
	}
	return s
}
