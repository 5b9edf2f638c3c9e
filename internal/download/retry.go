// Package download acquires raw document bytes: through a live browser
// session (event-driven or direct-request, by engine capability) or via
// a standalone HTTP client with a Chrome TLS fingerprint. A generic
// retry wrapper with exponential backoff covers all acquisition paths;
// extraction is never retried.
package download

import (
	"context"
	"log/slog"
	"time"
)

// Retry invokes op up to attempts times, sleeping 2^attempt * base
// between failures. Respects context cancellation during backoff. On
// exhaustion the last error is returned unchanged.
func Retry[T any](ctx context.Context, attempts int, base time.Duration, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt < attempts-1 {
			wait := base * (1 << uint(attempt))
			logger.WarnContext(ctx, "download: retrying",
				"attempt", attempt+1, "max_attempts", attempts,
				"backoff_ms", wait.Milliseconds(), "error", err)
			select {
			case <-ctx.Done():
				return zero, lastErr
			case <-time.After(wait):
			}
		}
	}
	return zero, lastErr
}
