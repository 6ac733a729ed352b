package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "apime:webhook"
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

func (q *RedisQueue) key(key string) string {
	return q.prefix + ":" + key
}

func (q *RedisQueue) Enqueue(ctx context.Context, key string, event model.WebhookEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue enqueue: marshal: %w", err)
	}

	if err := q.client.LPush(ctx, q.key(key), data).Err(); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}

	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, key string, timeout time.Duration) (*model.WebhookEvent, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}

	if len(result) < 2 {
		return nil, errors.New("queue dequeue: invalid result")
	}

	var event model.WebhookEvent
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("queue dequeue: unmarshal: %w", err)
	}

	return &event, nil
}

func (q *RedisQueue) Purge(ctx context.Context, key string) (int64, error) {
	var size *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		size = pipe.LLen(ctx, q.key(key))
		pipe.Del(ctx, q.key(key))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue purge: %w", err)
	}
	return size.Val(), nil
}

func (q *RedisQueue) Size(ctx context.Context, key string) (int64, error) {
	return q.client.LLen(ctx, q.key(key)).Result()
}

// Close não fecha o client, que é compartilhado com o rate limiter.
func (q *RedisQueue) Close() error {
	return nil
}
