package resilience

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaxAttempts is the attempt budget used when [Retry.MaxAttempts] is
// zero.
const DefaultMaxAttempts = 3

// Retry is a bounded retry policy. The zero value retries up to
// [DefaultMaxAttempts] times with a linearly growing one-second backoff.
//
// Policies are values and may be copied freely; configure one once and hand
// it to every caller that needs the same behaviour.
type Retry struct {
	// MaxAttempts is the total attempt budget including the first call.
	// Zero or negative means DefaultMaxAttempts.
	MaxAttempts int

	// Backoff maps the zero-based index of a failed attempt to the delay
	// before the next one. Nil means LinearBackoff(time.Second).
	Backoff func(attempt int) time.Duration

	// Sleep waits for the given duration or until ctx is done. Tests inject
	// a recording stub here so no real time passes. Nil means a
	// timer-backed wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// LinearBackoff returns a schedule that waits one unit after the first
// failure, two units after the second, and so on.
func LinearBackoff(unit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt+1) * unit
	}
}

// Do runs fn until it succeeds or the attempt budget is exhausted, sleeping
// between attempts per the backoff schedule. It returns nil on the first
// success, the last attempt's error once the budget is spent, or the
// context error when ctx ends during a backoff wait.
func (r Retry) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	backoff := r.Backoff
	if backoff == nil {
		backoff = LinearBackoff(time.Second)
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			slog.Debug("backing off before retry",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"delay", delay,
				"error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
