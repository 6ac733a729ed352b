package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/apime-gateway/internal/pkg/ratelimiter"
)

type window struct {
	count     int64
	expiresAt time.Time
}

type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop(time.Minute)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, size time.Duration) (*ratelimiter.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(size)}
		l.windows[key] = w
	}
	w.count++

	return ratelimiter.Build(w.count, limit, w.expiresAt.Sub(now), now), nil
}

// Close encerra a rotina de limpeza.
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}

func (l *MemoryLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for k, w := range l.windows {
				if !now.Before(w.expiresAt) {
					delete(l.windows, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
