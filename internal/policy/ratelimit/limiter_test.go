package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsBurstThenThrottles(t *testing.T) {
	t.Parallel()

	l := New(Config{PerMinute: 6, Burst: 2})
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("alice") || !l.Allow("alice") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow("alice") {
		t.Fatal("expected third message within the same instant to be throttled")
	}
	if !l.Allow("bob") {
		t.Fatal("expected other users to have their own bucket")
	}

	now = now.Add(10 * time.Second)
	if !l.Allow("alice") {
		t.Fatal("expected a token to refill after 10s at 6/min")
	}
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("u") {
			t.Fatalf("expected unlimited limiter to allow message %d", i)
		}
	}
}

func TestLimiterPrunesIdleBuckets(t *testing.T) {
	t.Parallel()

	l := New(Config{PerMinute: 60, Burst: 1})
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(time.Hour)
	l.Allow("new")

	if _, ok := l.limiters["old"]; ok {
		t.Fatal("expected idle bucket to be pruned")
	}
	if len(l.limiters) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(l.limiters))
	}
}
