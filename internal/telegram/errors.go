package telegram

import (
	"errors"
	"fmt"
	"time"
)

// BackoffError signals the gateway asked the caller to pause before retrying.
// It is statistics for the status tracker, not a hard failure.
type BackoffError struct {
	RetryAfter time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsBackoff extracts the requested pause from err when it is a rate-limit
// response.
func AsBackoff(err error) (time.Duration, bool) {
	var b *BackoffError
	if errors.As(err, &b) {
		return b.RetryAfter, true
	}
	return 0, false
}
