package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed           bool  // Whether the request is allowed
	Limit             int64 // Requests permitted per minute
	Remaining         int64 // Whole tokens left in the bucket
	RetryAfterSeconds int64 // Seconds until a token frees up (0 if allowed)
	ResetAt           int64 // Unix seconds when the bucket is full again
}

// Limiter gates webhook ingress per client key (IP).
type Limiter interface {
	Check(ctx context.Context, clientKey string) (*Result, error)
}

// Opts are the token bucket parameters shared by both backends.
type Opts struct {
	PerMinute int
	Burst     int
}

func (o Opts) ratePerSecond() float64 {
	return float64(o.PerMinute) / 60.0
}

// RedisLimiter is a token bucket shared across processes, implemented as an
// atomic Lua script so refill and consume cannot interleave.
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	opts   Opts
	logger Logger
}

// NewRedisLimiter creates a Redis-backed limiter with the embedded script.
func NewRedisLimiter(redisClient *redis.Client, opts Opts, logger Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		opts:   opts,
		logger: logger,
	}
}

// Check consumes one token from the client's bucket.
func (r *RedisLimiter) Check(ctx context.Context, clientKey string) (*Result, error) {
	key := fmt.Sprintf("rate_limit:webhook:%s", clientKey)
	now := time.Now()

	result, err := r.script.Run(ctx, r.redis, []string{key},
		r.opts.ratePerSecond(), r.opts.Burst, now.UnixMilli()).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Script returns {allowed, remaining, retry_after}
	resultArray, ok := result.([]interface{})
	if !ok || len(resultArray) != 3 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	allowed := resultArray[0].(int64) == 1
	remaining := resultArray[1].(int64)
	retryAfter := resultArray[2].(int64)

	res := &Result{
		Allowed:           allowed,
		Limit:             int64(r.opts.PerMinute),
		Remaining:         remaining,
		RetryAfterSeconds: retryAfter,
		ResetAt:           resetAt(now, remaining, r.opts),
	}

	if !allowed {
		r.logger.Warn("rate limit exceeded",
			"client", clientKey,
			"limit", r.opts.PerMinute,
			"retry_after", retryAfter)
	} else {
		r.logger.Debug("rate limit check passed",
			"client", clientKey,
			"remaining", remaining)
	}

	return res, nil
}

// Reset clears a client's bucket (for testing/admin).
func (r *RedisLimiter) Reset(ctx context.Context, clientKey string) error {
	return r.redis.Del(ctx, fmt.Sprintf("rate_limit:webhook:%s", clientKey)).Err()
}

// resetAt estimates when the bucket refills completely.
func resetAt(now time.Time, remaining int64, opts Opts) int64 {
	missing := float64(opts.Burst) - float64(remaining)
	if missing <= 0 {
		return now.Unix()
	}
	secs := missing / opts.ratePerSecond()
	return now.Add(time.Duration(secs * float64(time.Second))).Unix()
}
