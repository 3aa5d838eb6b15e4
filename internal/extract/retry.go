package extract

import (
	"context"
	"fmt"
	"time"
)

// withRetry runs fn up to attempts times with doubling backoff between
// failures. The pagination triggers behind it hit the network, and a
// single slow response must not end the whole comment walk.
func withRetry(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	var lastErr error
	backoff := initial
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
