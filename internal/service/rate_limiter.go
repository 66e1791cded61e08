package service

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	redisclient "github.com/remotecast/relay-server-go/internal/redis"
)

// KeyedLimiter budgets events per key over a window.
type KeyedLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local resetAt = now + window
return {1, resetAt}
`)

// RedisRateLimiter shares upgrade budgets between relay instances.
type RedisRateLimiter struct {
	client *redisclient.Client
	scope  string
}

func NewRedisRateLimiter(client *redisclient.Client, scope string) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, scope: scope}
}

func (rl *RedisRateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now().Unix()

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{redisclient.RateLimitKey(rl.scope, key)},
		now,
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request")
		return false, time.Now().Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request")
		return false, time.Now().Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}

const (
	memoryLimiterCleanupInterval = time.Minute
	memoryLimiterEntryTTL        = 5 * time.Minute
	memoryLimiterMaxEntries      = 10000
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryRateLimiter is the single-instance KeyedLimiter: one token bucket per
// key refilling limit tokens per window.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *MemoryRateLimiter) CheckLimit(
	_ context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	if limit <= 0 || window <= 0 {
		return false, time.Now().Add(window)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now)

	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		}
		rl.entries[key] = entry
	}
	entry.lastAccess = now

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, now.Add(window)
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, now.Add(delay)
	}
	return true, now.Add(window)
}

func (rl *MemoryRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *MemoryRateLimiter) cleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < memoryLimiterCleanupInterval {
		return
	}
	rl.lastCleanup = now

	for key, entry := range rl.entries {
		if now.Sub(entry.lastAccess) > memoryLimiterEntryTTL {
			delete(rl.entries, key)
		}
	}

	if len(rl.entries) > memoryLimiterMaxEntries {
		excess := len(rl.entries) - memoryLimiterMaxEntries
		for key := range rl.entries {
			if excess == 0 {
				break
			}
			delete(rl.entries, key)
			excess--
		}
	}
}

// MessageLimiter throttles one connection's session messages to one per
// interval. Excess messages are dropped by the caller, never queued.
type MessageLimiter struct {
	limiter *rate.Limiter
}

func NewMessageLimiter(interval time.Duration) *MessageLimiter {
	return &MessageLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (l *MessageLimiter) Allow() bool {
	return l.limiter.Allow()
}

func (l *MessageLimiter) AllowAt(t time.Time) bool {
	return l.limiter.AllowN(t, 1)
}
