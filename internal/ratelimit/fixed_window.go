package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter counts requests per key in fixed time windows on
// Redis, so every API replica shares one budget. Counting and expiry run
// in a single Lua script to keep the two steps atomic.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	client *redis.Client
	prefix string
}

// NewFixedWindowLimiter wraps an existing Redis client in a limiter.
// The prefix namespaces limiter keys away from other users of the same
// database.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "yardhop:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		client: client,
		prefix: prefix,
	}, nil
}

// Allow reports whether the key is still within quota for the current
// window. Redis failures fail closed: a limiter that cannot count cannot
// protect the expensive paths behind it.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= int64(l.limit)
}

// RetryAfter returns how long until the current window rolls over, rounded
// up to whole seconds. Handlers surface it as the Retry-After header.
func (l *FixedWindowLimiter) RetryAfter() time.Duration {
	if l == nil || l.window <= 0 {
		return time.Second
	}
	windowMs := l.window.Milliseconds()
	nowMs := time.Now().UTC().UnixMilli()
	remainderMs := windowMs - nowMs%windowMs
	d := time.Duration(remainderMs) * time.Millisecond
	return d.Round(time.Second) + time.Second
}
