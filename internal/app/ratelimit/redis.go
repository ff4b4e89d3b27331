package ratelimit

import (
	"context"
	"fmt"
	"github.com/go-redis/redis/v8"
	"time"
)

// ratelimit.Limiter interface implementation
var _ Limiter = (*Redis)(nil)

// KEYS[1] window counter, ARGV[1] window in milliseconds
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// Redis is a fixed window limiter shared by every instance using the same Redis.
type Redis struct {
	client redis.Cmdable
	prefix string
	window time.Duration
	limit  int
}

func NewRedis(client redis.Cmdable, window time.Duration, limit int) *Redis {
	return &Redis{
		client: client,
		prefix: "metalink:ratelimit:",
		window: window,
		limit:  limit,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	vals, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis script: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis script: unexpected reply %v", vals)
	}

	count, _ := vals[0].(int64)
	left := r.window
	if ms, ok := vals[1].(int64); ok && ms > 0 {
		left = time.Duration(ms) * time.Millisecond
	}

	return result(count, r.limit, time.Now().Add(left)), nil
}
