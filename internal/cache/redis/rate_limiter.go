package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kordes/polymirror/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPoll is how often Wait re-checks the window after a denial.
const waitPoll = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a sliding window held in a
// Redis sorted set, trimmed and counted by a single atomic Lua script. The
// budget lives in Redis so every process draws from the same pool: the
// activity poller and the price refresher split the upstream API allowance
// between replicas, and the status API throttles clients per IP through the
// same buckets.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
	}
}

// Allow reports whether one more request fits the window for key, counting
// it when it does. Buckets are namespaced under "ratelimit:" in Redis.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{"ratelimit:" + key},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}

	// The script returns {allowed, remaining}.
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until key admits one request at the default budget of one per
// second, re-checking after each denial. The activity poller paces Data API
// fetches with this; callers that need a different budget drive Allow in
// their own loop.
func (l *RateLimiter) Wait(ctx context.Context, key string) error {
	tick := time.NewTicker(waitPoll)
	defer tick.Stop()

	for {
		allowed, err := l.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-tick.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
