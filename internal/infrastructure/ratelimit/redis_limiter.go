// Package ratelimit provides the shared token-bucket admission control for
// outbound provider calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/repository"
)

const (
	keyPrefix = "rl:"
	stateTTL  = 3600
)

// tryAcquireScript refills, checks and consumes in one atomic step.
// KEYS[1] bucket key; ARGV capacity, refill interval ms, now ms, ttl seconds.
var tryAcquireScript = redis.NewScript(`
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last")
local tokens = tonumber(data[1]) or cap
local last = tonumber(data[2]) or now

local elapsed = math.max(0, now - last)
tokens = math.min(cap, tokens + math.floor(elapsed / refill))

if tokens <= 0 then
  redis.call("HSET", key, "tokens", 0, "last", now)
  redis.call("EXPIRE", key, ttl)
  return 0
end

tokens = tokens - 1
redis.call("HSET", key, "tokens", tokens, "last", now)
redis.call("EXPIRE", key, ttl)
return 1
`)

// RedisLimiter is a token bucket per provider key, shared by every instance
// that talks to the same Redis.
type RedisLimiter struct {
	client redis.Scripter
	now    func() time.Time
}

type Option func(*RedisLimiter)

// WithClock overrides the time source used for refill computation.
func WithClock(now func() time.Time) Option {
	return func(l *RedisLimiter) {
		l.now = now
	}
}

func NewRedisLimiter(client redis.Scripter, opts ...Option) *RedisLimiter {
	l := &RedisLimiter{client: client, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ repository.RateLimiter = (*RedisLimiter)(nil)

// Key is the Redis hash holding the bucket of providerKey.
func Key(providerKey string) string {
	return keyPrefix + providerKey
}

// TryAcquire takes one token from the provider's bucket. It never waits:
// a denied caller is expected to back off out of band.
func (l *RedisLimiter) TryAcquire(ctx context.Context, providerKey string, limit model.RateLimit) (bool, error) {
	if limit.Capacity <= 0 || limit.RefillIntervalMs <= 0 {
		return false, fmt.Errorf("invalid rate limit for %s: capacity %d, refill %dms",
			providerKey, limit.Capacity, limit.RefillIntervalMs)
	}

	res, err := tryAcquireScript.Run(ctx, l.client, []string{Key(providerKey)},
		limit.Capacity, limit.RefillIntervalMs, l.now().UnixMilli(), stateTTL).Int()
	if err != nil {
		return false, fmt.Errorf("rate limiter script for %s: %w", providerKey, err)
	}
	return res == 1, nil
}
