package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindowLimiter shares one counter per key across instances. The
// INCR+EXPIRE pair runs as a single Lua script so the window cannot be left
// without a TTL if the process dies between commands.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	script *redis.Script
}

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rate-limit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, script: fixedWindowScript}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := l.script.Run(ctx, l.client, []string{l.prefix + ":" + key}, window.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, err
	}
	count, _ := res[0].(int64)
	ttlMillis, _ := res[1].(int64)
	if ttlMillis < 0 {
		ttlMillis = window.Milliseconds()
	}
	resetAt := time.Now().Add(time.Duration(ttlMillis) * time.Millisecond)
	if count > int64(limit) {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: time.Until(resetAt), ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: limit - int(count), ResetAt: resetAt}, nil
}
