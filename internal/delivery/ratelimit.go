package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/investor-outreach/internal/domain"
)

// Limit caps sends for one channel. Zero disables a window.
type Limit struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerDay    int `yaml:"per_day"`
}

// multiWindowScript checks every window before incrementing any of them, so
// a denied send never consumes quota. A limit of 0 means unlimited.
const multiWindowScript = `
local inc = tonumber(ARGV[1])
for i = 1, 3 do
    local limit = tonumber(ARGV[i + 1])
    if limit > 0 then
        local current = tonumber(redis.call("GET", KEYS[i]) or "0")
        if current + inc > limit then
            return {0, i}
        end
    end
end
for i = 1, 3 do
    local v = redis.call("INCRBY", KEYS[i], inc)
    if v == inc then
        redis.call("EXPIRE", KEYS[i], tonumber(ARGV[i + 4]))
    end
end
return {1, 0}
`

// RateLimiter enforces per-channel send limits shared across processes.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	limits map[string]Limit
	clock  clockwork.Clock
}

// NewRateLimiter creates a limiter. Channels missing from limits are never
// limited.
func NewRateLimiter(client *redis.Client, limits map[string]Limit, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		script: redis.NewScript(multiWindowScript),
		limits: limits,
		clock:  clock,
	}
}

// Allow consumes one send from channel's quota. When denied, wait is how
// long until the tightest exhausted window resets.
func (r *RateLimiter) Allow(ctx context.Context, channel string) (allowed bool, wait time.Duration, err error) {
	lim, ok := r.limits[channel]
	if !ok {
		return true, 0, nil
	}

	now := r.clock.Now().UTC()
	keys := []string{
		fmt.Sprintf("ratelimit:%s:sec:%d", channel, now.Unix()),
		fmt.Sprintf("ratelimit:%s:min:%d", channel, now.Unix()/60),
		fmt.Sprintf("ratelimit:%s:day:%s", channel, now.Format("2006-01-02")),
	}

	res, err := r.script.Run(ctx, r.redis, keys,
		1, lim.PerSecond, lim.PerMinute, lim.PerDay,
		2, 120, 90000,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}
	if res[0] == 1 {
		return true, 0, nil
	}

	switch res[1] {
	case 1:
		wait = time.Second
	case 2:
		wait = time.Duration(60-now.Second()) * time.Second
	default:
		tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		wait = tomorrow.Sub(now)
	}
	return false, wait, nil
}

// RateLimited returns a gateway that checks limiter under the given channel
// name before delegating to next.
func RateLimited(next Gateway, limiter *RateLimiter, channel string) Gateway {
	return GatewayFunc(func(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
		ok, wait, err := limiter.Allow(ctx, channel)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s (retry in %s)", ErrRateLimited, channel, wait)
		}
		return next.Send(ctx, msg)
	})
}
