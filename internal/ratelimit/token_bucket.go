// Package ratelimit implements a Redis-backed token bucket shared by every API replica.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var errInvalidBucket = errors.New("ratelimit: capacity and refill interval must be positive")

// tokenBucketScript refills one token per interval up to capacity and takes one token
// when available. It returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
	tokens = math.min(capacity, tokens + intervals)
	last_refill = last_refill + (intervals * interval_ms)
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

type TokenBucketConfig struct {
	Client   redis.Scripter
	Prefix   string
	Capacity int
	Interval time.Duration
	Clock    func() time.Time
}

// TokenBucket limits requests per key.
type TokenBucket struct {
	client   redis.Scripter
	prefix   string
	capacity int
	interval time.Duration
	ttl      time.Duration
	clock    func() time.Time
}

func NewTokenBucket(cfg TokenBucketConfig) (*TokenBucket, error) {
	if cfg.Client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if cfg.Capacity <= 0 || cfg.Interval <= 0 {
		return nil, errInvalidBucket
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenBucket{
		client:   cfg.Client,
		prefix:   cfg.Prefix,
		capacity: cfg.Capacity,
		interval: cfg.Interval,
		ttl:      time.Duration(cfg.Capacity+1) * cfg.Interval,
		clock:    clock,
	}, nil
}

// Capacity is the bucket size.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Allow takes one token for key.
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	ttlSeconds := int64(math.Ceil(b.ttl.Seconds()))
	result, err := tokenBucketScript.Run(ctx, b.client, []string{b.prefix + key},
		b.clock().UnixMilli(),
		b.capacity,
		b.interval.Milliseconds(),
		ttlSeconds,
	).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", result)
	}
	return Decision{
		Allowed:    asInt64(values[0]) == 1,
		Remaining:  asInt64(values[1]),
		RetryAfter: time.Duration(asInt64(values[2])) * time.Millisecond,
	}, nil
}

func asInt64(value interface{}) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case string:
		if parsed, err := strconv.ParseInt(typed, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
