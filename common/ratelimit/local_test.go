package ratelimit

import (
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, kv ...interface{})  {}
func (nopLogger) Error(msg string, kv ...interface{}) {}
func (nopLogger) Warn(msg string, kv ...interface{})  {}
func (nopLogger) Debug(msg string, kv ...interface{}) {}

func TestLocalLimiterBurstThenDeny(t *testing.T) {
	l := NewLocalLimiter(Opts{PerMinute: 60, Burst: 3}, nopLogger{})
	now := time.Now()

	for i := 0; i < 3; i++ {
		res := l.checkAt("1.2.3.4", now)
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed within burst", i+1)
		}
	}

	res := l.checkAt("1.2.3.4", now)
	if res.Allowed {
		t.Fatal("expected denial after burst exhausted")
	}
	if res.RetryAfterSeconds < 1 {
		t.Errorf("expected retry_after >= 1, got %d", res.RetryAfterSeconds)
	}
	if res.Limit != 60 {
		t.Errorf("expected limit 60, got %d", res.Limit)
	}
}

func TestLocalLimiterRefill(t *testing.T) {
	// 60/min = 1 token per second.
	l := NewLocalLimiter(Opts{PerMinute: 60, Burst: 1}, nopLogger{})
	now := time.Now()

	if res := l.checkAt("10.0.0.1", now); !res.Allowed {
		t.Fatal("first request should pass")
	}
	if res := l.checkAt("10.0.0.1", now); res.Allowed {
		t.Fatal("second immediate request should be denied")
	}
	if res := l.checkAt("10.0.0.1", now.Add(1100*time.Millisecond)); !res.Allowed {
		t.Fatal("request after refill interval should pass")
	}
}

func TestLocalLimiterIsolatesClients(t *testing.T) {
	l := NewLocalLimiter(Opts{PerMinute: 60, Burst: 1}, nopLogger{})
	now := time.Now()

	if res := l.checkAt("a", now); !res.Allowed {
		t.Fatal("client a should pass")
	}
	if res := l.checkAt("b", now); !res.Allowed {
		t.Fatal("client b has its own bucket")
	}
	if res := l.checkAt("a", now); res.Allowed {
		t.Fatal("client a exhausted its bucket")
	}
}

func TestLocalLimiterEvictsIdleBuckets(t *testing.T) {
	l := NewLocalLimiter(Opts{PerMinute: 60, Burst: 1}, nopLogger{})
	now := time.Now()

	l.checkAt("stale", now)
	if len(l.buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(l.buckets))
	}

	// Past the idle window the stale bucket is swept on the next check.
	later := now.Add(25 * time.Minute)
	l.checkAt("fresh", later)
	if _, ok := l.buckets["stale"]; ok {
		t.Error("stale bucket should have been evicted")
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Error("fresh bucket should exist")
	}
}
