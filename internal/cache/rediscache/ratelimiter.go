package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts hits in a window that starts at the first hit;
// later hits do not push the expiry forward.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter throttles carrier polling across tracking-worker replicas.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{c: redis.NewClient(&redis.Options{Addr: addr})}
}

// Allow reports whether one more hit on key fits into limit per window,
// along with the hit count so far.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	n, err := fixedWindowScript.Run(ctx, rl.c, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, errors.Wrapf(err, "rate limit %s", key)
	}
	return n <= limit, n, nil
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}
