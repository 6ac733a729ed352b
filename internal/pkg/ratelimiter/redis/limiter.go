package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-apime/apime-gateway/internal/pkg/ratelimiter"
)

// INCR + PEXPIRE atômicos; devolve {contagem, pttl}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type RedisLimiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimiter.Result, error) {
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis limiter: %w", err)
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("redis limiter: resposta inválida")
	}

	resetAfter := time.Duration(vals[1]) * time.Millisecond
	if vals[1] < 0 {
		resetAfter = window
	}
	return ratelimiter.Build(vals[0], limit, resetAfter, time.Now()), nil
}
