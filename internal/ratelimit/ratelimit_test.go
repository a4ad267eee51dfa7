package ratelimit

import (
	"testing"
	"time"
)

func TestConsume_AllowsWithinBurst(t *testing.T) {
	l := New(Family{PerMinute: 60, Burst: 120}, Family{PerMinute: 120, Burst: 240})
	for i := 0; i < 120; i++ {
		allowed, _ := l.Consume("user:u1", 1)
		if !allowed {
			t.Fatalf("request %d: expected allowed within burst capacity", i)
		}
	}
	allowed, retryAfter := l.Consume("user:u1", 1)
	if allowed {
		t.Fatal("121st request within the same instant should be denied")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", retryAfter)
	}
}

func TestConsume_RejectsNonPositiveCost(t *testing.T) {
	l := New(Family{PerMinute: 60, Burst: 120}, Family{PerMinute: 60, Burst: 120})
	if allowed, _ := l.Consume("user:u1", 0); allowed {
		t.Fatal("zero cost must be rejected")
	}
	if allowed, _ := l.Consume("user:u1", -1); allowed {
		t.Fatal("negative cost must be rejected")
	}
}

func TestConsume_RetryAfterMatchesRefillRate(t *testing.T) {
	// per_minute=1, burst=1 => refill rate 1/60 per second; draining the
	// single token means the next unit requires ~60s.
	l := New(Family{PerMinute: 1, Burst: 1}, Family{PerMinute: 1, Burst: 1})
	allowed, _ := l.Consume("user:u1", 1)
	if !allowed {
		t.Fatal("first consume should succeed with a full bucket")
	}
	_, retryAfter := l.Consume("user:u1", 1)
	if retryAfter < 59*time.Second || retryAfter > 61*time.Second {
		t.Errorf("retryAfter = %v, want ~60s", retryAfter)
	}
}

func TestIPKey_RejectsZoneIdentifiers(t *testing.T) {
	if _, ok := IPKey("fe80::1%eth0"); ok {
		t.Error("expected IPv6 zone identifier to be rejected")
	}
}

func TestIPKey_RejectsInvalidAddresses(t *testing.T) {
	if _, ok := IPKey("not-an-ip"); ok {
		t.Error("expected invalid address to be rejected")
	}
}

func TestIPKey_AcceptsPlainAndHostPort(t *testing.T) {
	key, ok := IPKey("203.0.113.5")
	if !ok || key != "ip:203.0.113.5" {
		t.Errorf("IPKey(plain) = (%q, %v), want (ip:203.0.113.5, true)", key, ok)
	}
	key, ok = IPKey("203.0.113.5:54321")
	if !ok || key != "ip:203.0.113.5" {
		t.Errorf("IPKey(host:port) = (%q, %v), want (ip:203.0.113.5, true)", key, ok)
	}
}

func TestConsume_KeysAreIndependent(t *testing.T) {
	l := New(Family{PerMinute: 60, Burst: 1}, Family{PerMinute: 60, Burst: 1})
	l.Consume("user:u1", 1)
	allowed, _ := l.Consume("user:u2", 1)
	if !allowed {
		t.Fatal("a different key's bucket must not be affected by another key's consumption")
	}
}
