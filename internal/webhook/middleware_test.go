package webhook

import (
	"fmt"
	"testing"
	"time"
)

func TestIPRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, nil)
	l.clock = func() time.Time { return now }

	for n := 0; n < 500; n++ {
		if !l.allow(fmt.Sprintf("10.0.%d.%d", n/256, n%256)) {
			t.Fatalf("first request from a new ip must pass")
		}
	}
	if got := l.Len(); got != 500 {
		t.Fatalf("expected 500 buckets, got %d", got)
	}
	if l.allow("10.0.0.0") {
		t.Fatalf("second request inside the window must be limited")
	}

	now = now.Add(limiterIdleTTL + time.Second)
	if !l.allow("192.168.1.1") {
		t.Fatalf("new ip after sweep must pass")
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("idle buckets must be swept, have %d", got)
	}
}

func TestIPRateLimiter_CapsTable(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, nil)
	l.clock = func() time.Time { return now }

	for n := 0; n < maxLimiters+50; n++ {
		now = now.Add(time.Millisecond)
		l.allow(fmt.Sprintf("ip-%d", n))
	}
	if got := l.Len(); got != maxLimiters {
		t.Fatalf("expected table capped at %d, got %d", maxLimiters, got)
	}
	if _, ok := l.limiters["ip-0"]; ok {
		t.Fatalf("least recently seen ip should have been evicted")
	}
	if _, ok := l.limiters[fmt.Sprintf("ip-%d", maxLimiters+49)]; !ok {
		t.Fatalf("latest ip must hold a bucket")
	}
}
