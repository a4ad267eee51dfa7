package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusTooManyRequests, false},
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		if got := isRetryableStatus(tt.status); got != tt.want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestBackoffDelay_ClampedToMax(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		if d > cfg.MaxDelay {
			t.Errorf("backoffDelay(%d) = %v, want <= %v", attempt, d, cfg.MaxDelay)
		}
	}
}

func TestBackoffDelay_ZeroBaseIsZero(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 0, MaxDelay: time.Second}
	if d := backoffDelay(cfg, 0); d != 0 {
		t.Errorf("backoffDelay() = %v, want 0 when BaseDelay is 0", d)
	}
}

func TestSleepWithContext_CancelledReturnsErr(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Second); err == nil {
		t.Error("sleepWithContext() error = nil, want context error on a cancelled context")
	}
}

func TestSleepWithContext_ZeroReturnsImmediately(t *testing.T) {
	start := time.Now()
	if err := sleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("sleepWithContext() error = %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Error("sleepWithContext(0) took too long")
	}
}

func TestRetryAfterDuration_ParsesSeconds(t *testing.T) {
	resp := httptest.NewRecorder().Result()
	resp.Header.Set("Retry-After", "5")
	if got := retryAfterDuration(resp); got != 5*time.Second {
		t.Errorf("retryAfterDuration() = %v, want 5s", got)
	}
}

func TestRetryAfterDuration_AbsentReturnsZero(t *testing.T) {
	resp := httptest.NewRecorder().Result()
	if got := retryAfterDuration(resp); got != 0 {
		t.Errorf("retryAfterDuration() = %v, want 0", got)
	}
}
