package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/apime-gateway/internal/pkg/queue"
	"github.com/open-apime/apime-gateway/internal/storage/model"
)

type MemoryQueue struct {
	mu     sync.Mutex
	lists  map[string][]model.WebhookEvent
	notify map[string]chan struct{}
	limit  int
	done   chan struct{}
	closed bool
}

// NewQueue cria a fila em memória; limit <= 0 usa 10000 eventos por chave.
func NewQueue(limit int) *MemoryQueue {
	if limit <= 0 {
		limit = 10000
	}
	return &MemoryQueue{
		lists:  make(map[string][]model.WebhookEvent),
		notify: make(map[string]chan struct{}),
		limit:  limit,
		done:   make(chan struct{}),
	}
}

// signal deve ser chamado com q.mu travado.
func (q *MemoryQueue) signal(key string) chan struct{} {
	ch, ok := q.notify[key]
	if !ok {
		ch = make(chan struct{}, 1)
		q.notify[key] = ch
	}
	return ch
}

func (q *MemoryQueue) Enqueue(ctx context.Context, key string, event model.WebhookEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrClosed
	}
	if len(q.lists[key]) >= q.limit {
		return queue.ErrFull
	}
	q.lists[key] = append(q.lists[key], event)

	select {
	case q.signal(key) <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, key string, timeout time.Duration) (*model.WebhookEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		if list := q.lists[key]; len(list) > 0 {
			event := list[0]
			list[0] = model.WebhookEvent{}
			if len(list) == 1 {
				delete(q.lists, key)
			} else {
				q.lists[key] = list[1:]
			}
			q.mu.Unlock()
			return &event, nil
		}
		ch := q.signal(key)
		q.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return nil, nil
		case <-q.done:
			return nil, queue.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Purge(_ context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int64(len(q.lists[key]))
	// notify é mantido: um Dequeue em espera continua ouvindo o mesmo canal.
	delete(q.lists, key)
	return n, nil
}

func (q *MemoryQueue) Size(_ context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[key])), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
