package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// Limiter blocks until one more send may go out.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLocalLimiter returns an in-process token bucket of perSecond tokens
// with a burst of one. *rate.Limiter already satisfies Limiter.
func NewLocalLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Lua script for an atomic per-second window shared by every worker.
// Only increments when the window has room.
const secondLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}  -- denied
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}  -- allowed
`

// RateLimiter caps sends per second across all processes using one Redis
// counter per wall-clock second. When Redis errors it falls back to a local
// token bucket rather than stalling the pool.
type RateLimiter struct {
	redis     *redis.Client
	name      string
	perSecond int
	script    *redis.Script
	local     *rate.Limiter
	now       func() time.Time

	warnOnce sync.Once
}

// NewRateLimiter creates a Redis-backed limiter for the named queue.
func NewRateLimiter(redisClient *redis.Client, name string, perSecond int) *RateLimiter {
	return &RateLimiter{
		redis:     redisClient,
		name:      name,
		perSecond: perSecond,
		script:    redis.NewScript(secondLimitLuaScript),
		local:     NewLocalLimiter(perSecond),
		now:       time.Now,
	}
}

func (r *RateLimiter) key(t time.Time) string {
	return fmt.Sprintf("mailpipe:ratelimit:%s:sec:%d", r.name, t.Unix())
}

// Allow atomically takes a slot in the current second. When denied, wait is
// the time until the next window opens.
func (r *RateLimiter) Allow(ctx context.Context) (allowed bool, wait time.Duration, err error) {
	if r.perSecond <= 0 {
		return true, 0, nil
	}
	now := r.now()
	result, err := r.script.Run(ctx, r.redis, []string{r.key(now)}, r.perSecond, 2).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if result[0].(int64) == 1 {
		return true, 0, nil
	}
	next := now.Truncate(time.Second).Add(time.Second)
	return false, next.Sub(now), nil
}

// Wait blocks until a slot is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, wait, err := r.Allow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.warnOnce.Do(func() {
				logger.Warn("global rate limiter unavailable, using local limit", "error", err)
			})
			return r.local.Wait(ctx)
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CurrentUsage returns the number of sends counted in the current second.
func (r *RateLimiter) CurrentUsage(ctx context.Context) (int64, error) {
	n, err := r.redis.Get(ctx, r.key(r.now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
