package providers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds retry parameters for upstream provider requests.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient error that may succeed on retry. 429 is deliberately excluded:
// a rate-limited request needs the caller to back off, not this provider to
// hammer the same upstream again.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// newBackOff builds an exponential backoff policy bounded by cfg, used to
// compute the delay before attempt (0-indexed).
func newBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}

// backoffDelay returns the delay to wait before retrying attempt (0-indexed),
// clamped to cfg.MaxDelay. attempt 0 is the delay before the first retry.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	b := newBackOff(cfg)
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return cfg.MaxDelay
		}
		d = next
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// sleepWithContext sleeps for the given duration, returning early if the
// context is cancelled. Returns ctx.Err() if cancelled, nil otherwise.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// retryAfterDuration parses the Retry-After header from an HTTP response.
// It returns the parsed duration or 0 if the header is absent or unparsable.
func retryAfterDuration(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
