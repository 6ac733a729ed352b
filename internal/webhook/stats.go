package webhook

import (
	"sync"
	"sync/atomic"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

type counters struct {
	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// Stats guarda contadores por instância. Os contadores só crescem; o mapa é
// protegido por RWMutex e os incrementos são atômicos, então leituras não
// bloqueiam o worker.
type Stats struct {
	mu sync.RWMutex
	m  map[string]*counters
}

func NewStats() *Stats {
	return &Stats{m: make(map[string]*counters)}
}

// Reset zera (ou cria) os contadores da instância.
func (s *Stats) Reset(instanceID string) {
	s.mu.Lock()
	s.m[instanceID] = &counters{}
	s.mu.Unlock()
}

func (s *Stats) Remove(instanceID string) {
	s.mu.Lock()
	delete(s.m, instanceID)
	s.mu.Unlock()
}

func (s *Stats) Snapshot(instanceID string) model.WebhookStats {
	c := s.get(instanceID)
	if c == nil {
		return model.WebhookStats{}
	}
	return model.WebhookStats{
		Queued:    c.queued.Load(),
		Delivered: c.delivered.Load(),
		Failed:    c.failed.Load(),
	}
}

func (s *Stats) incQueued(instanceID string) {
	if c := s.get(instanceID); c != nil {
		c.queued.Add(1)
	}
}

func (s *Stats) incDelivered(instanceID string) {
	if c := s.get(instanceID); c != nil {
		c.delivered.Add(1)
	}
}

func (s *Stats) incFailed(instanceID string) {
	if c := s.get(instanceID); c != nil {
		c.failed.Add(1)
	}
}

func (s *Stats) get(instanceID string) *counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[instanceID]
}
