package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRateLimitPrefix = "prdforge:ratelimit"

// fixedWindow increments the counter and starts the window on the first hit.
// A key found without a TTL gets one, so a lost PEXPIRE cannot pin a user.
// Returns {count, pttl_ms}.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// DistributedRateLimiter is a fixed window counter in Redis shared by every
// instance
type DistributedRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	prefix string
}

func NewDistributedRateLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = GenerationRateLimitConfig(0)
	}
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &DistributedRateLimiter{client: client, config: config, prefix: prefix}
}

func (rl *DistributedRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindow.Run(ctx, rl.client,
		[]string{rl.prefix + ":" + key},
		rl.config.WindowDuration.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	count, _ := res[0].(int64)
	pttl, _ := res[1].(int64)

	limit := rl.config.RequestsPerWindow
	d := Decision{Limit: limit, Allowed: count <= int64(limit)}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(pttl) * time.Millisecond
	}
	return d, nil
}
