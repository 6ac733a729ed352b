// Package queue define as filas FIFO de eventos de webhook, uma por instância.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

var (
	ErrClosed = errors.New("queue is closed")
	ErrFull   = errors.New("queue is full")
)

// Queue mantém uma lista FIFO independente por chave (instanceId).
// Dequeue retorna (nil, nil) quando o timeout expira sem eventos.
type Queue interface {
	Enqueue(ctx context.Context, key string, event model.WebhookEvent) error
	Dequeue(ctx context.Context, key string, timeout time.Duration) (*model.WebhookEvent, error)
	Purge(ctx context.Context, key string) (int64, error)
	Size(ctx context.Context, key string) (int64, error)
	Close() error
}
