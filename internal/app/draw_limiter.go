package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowCounter increments a fixed-window counter and returns the count and
// the window's remaining milliseconds.
var windowCounter = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RedisRateLimiter throttles draw approvals with fixed windows shared by every
// API replica.
type RedisRateLimiter struct {
	client redis.Scripter
	prefix string
}

// NewRedisRateLimiter stores counters under "<prefix>:draw_limit".
func NewRedisRateLimiter(client redis.Scripter, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "cronia"
	}
	return &RedisRateLimiter{client: client, prefix: prefix + ":draw_limit"}
}

// Allow counts one request for key in the current window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}
	window = max(window, time.Second)

	values, err := windowCounter.Run(ctx, l.client, []string{l.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateDecision{}, err
	}
	if len(values) != 2 {
		return RateDecision{}, fmt.Errorf("draw limiter returned %d values", len(values))
	}

	count := int(values[0])
	return RateDecision{
		Allowed:    count <= limit,
		Count:      count,
		RetryAfter: time.Duration(values[1]) * time.Millisecond,
	}, nil
}
