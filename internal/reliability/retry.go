package reliability

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryFixed calls fn up to attempts times, waiting delay between failed
// attempts. onFailure (optional) observes each failed attempt, 1-based.
// The last error is returned when every attempt fails; ctx errors abort early.
func RetryFixed(ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context, attempt int) error, onFailure func(attempt int, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, lastErr)
		}
		if attempt < attempts {
			if err := Sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}
