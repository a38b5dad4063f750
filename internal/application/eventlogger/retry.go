package eventlogger

import (
	"context"
	"errors"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
)

// Retry runs op once and then up to maxRetries more times, waiting delay
// between attempts. It returns nil on the first success or the last error.
// Errors wrapping port.ErrSinkNotInitialized end the loop immediately.
// Cancelling ctx ends the wait between attempts, so callers that must make
// every attempt pass a context detached from cancellation.
func Retry(ctx context.Context, maxRetries int, delay time.Duration, op func(ctx context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, port.ErrSinkNotInitialized) {
			return lastErr
		}
	}

	return lastErr
}
