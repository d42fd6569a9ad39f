// Package backoff provides fixed-delay retry strategies for short-lived
// side effects (durable history appends, geocoder lookups).
package backoff

import (
	"context"
	"fmt"
	"time"
)

// Strategy is a finite series of delays. One attempt runs per entry; each
// failed attempt sleeps for its entry before the next try.
type Strategy struct {
	Delays []time.Duration
}

var (
	// Brief suits best-effort writes that must not hold a pipeline open.
	Brief = Strategy{
		Delays: []time.Duration{
			200 * time.Millisecond,
			500 * time.Millisecond,
		},
	}

	// Standard suits network calls that are worth a few seconds of patience.
	Standard = Strategy{
		Delays: []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
		},
	}
)

// RetryFunc is the operation under retry. attempt starts at 1.
type RetryFunc func(ctx context.Context, attempt int) error

// Retry runs fn until it succeeds, the strategy is exhausted, or ctx is
// cancelled. The last error is wrapped in the exhaustion error.
func Retry(ctx context.Context, strategy Strategy, fn RetryFunc) error {
	var lastErr error

	for i := 0; i < len(strategy.Delays); i++ {
		if err := fn(ctx, i+1); err != nil {
			lastErr = err

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(strategy.Delays[i]):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("backoff: failed after %d attempts: %w", len(strategy.Delays), lastErr)
}
