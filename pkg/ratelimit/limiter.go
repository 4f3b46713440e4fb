// Package ratelimit throttles outbound provider calls per account.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits a request when fewer than max requests fall inside the window.
// It returns 1 on admission, otherwise the negative wait in milliseconds.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
// A nil client admits every request.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	rate   int
	window time.Duration
	prefix string
}

// NewSlidingWindowLimiter allows rate requests per window for each key.
func NewSlidingWindowLimiter(client *redis.Client, rate int, window time.Duration) *SlidingWindowLimiter {
	if rate <= 0 {
		rate = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindowLimiter{
		redis:  client,
		rate:   rate,
		window: window,
		prefix: "ratelimit:",
	}
}

// Allow checks if a request is allowed and returns the wait duration if not.
// Redis errors admit the request.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil || l.redis == nil {
		return true, 0
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{l.prefix + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.rate,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// Wait blocks until the request is admitted or ctx ends.
func (l *SlidingWindowLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, wait := l.Allow(ctx, key)
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait for %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
