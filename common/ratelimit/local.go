package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is the in-process fallback used when no Redis is configured.
// Best-effort: each process keeps its own per-client buckets.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	opts    Opts
	logger  Logger

	// idleEvict controls how long an untouched bucket survives.
	idleEvict time.Duration
	lastSweep time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process per-client token bucket registry.
func NewLocalLimiter(opts Opts, logger Logger) *LocalLimiter {
	return &LocalLimiter{
		buckets:   make(map[string]*localBucket),
		opts:      opts,
		logger:    logger,
		idleEvict: 10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Check consumes one token from the client's bucket.
func (l *LocalLimiter) Check(_ context.Context, clientKey string) (*Result, error) {
	return l.checkAt(clientKey, time.Now()), nil
}

// checkAt is the clock-injected core, exercised directly by tests.
func (l *LocalLimiter) checkAt(clientKey string, now time.Time) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.idleEvict {
		l.sweep(now)
	}

	b, ok := l.buckets[clientKey]
	if !ok {
		b = &localBucket{
			limiter: rate.NewLimiter(rate.Limit(l.opts.ratePerSecond()), l.opts.Burst),
		}
		l.buckets[clientKey] = b
	}
	b.lastSeen = now

	res := &Result{Limit: int64(l.opts.PerMinute)}

	reservation := b.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		// Not enough tokens: undo the reservation and report the wait.
		reservation.CancelAt(now)
		res.Allowed = false
		res.Remaining = 0
		res.RetryAfterSeconds = int64(math.Ceil(delay.Seconds()))
		l.logger.Warn("rate limit exceeded",
			"client", clientKey,
			"limit", l.opts.PerMinute,
			"retry_after", res.RetryAfterSeconds)
	} else {
		res.Allowed = true
		res.Remaining = int64(b.limiter.TokensAt(now))
		if res.Remaining < 0 {
			res.Remaining = 0
		}
	}
	res.ResetAt = resetAt(now, res.Remaining, l.opts)

	return res
}

// sweep drops buckets idle longer than idleEvict. Caller holds mu.
func (l *LocalLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleEvict {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
