// Package memory guarda instâncias apenas no processo (DB_DRIVER=memory).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

type instanceRepo struct {
	mu    sync.RWMutex
	items map[string]model.Instance
}

func NewInstanceRepository() *instanceRepo {
	return &instanceRepo{items: make(map[string]model.Instance)}
}

func (r *instanceRepo) Create(_ context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[inst.ID]; ok {
		return model.Instance{}, model.ErrAlreadyExists
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	inst.UpdatedAt = inst.CreatedAt
	r.items[inst.ID] = persisted(inst)
	return inst, nil
}

func (r *instanceRepo) GetByID(_ context.Context, id string) (model.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[id]
	if !ok {
		return model.Instance{}, model.ErrNotFound
	}
	return inst, nil
}

func (r *instanceRepo) List(_ context.Context) ([]model.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Instance, 0, len(r.items))
	for _, inst := range r.items {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *instanceRepo) Update(_ context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[inst.ID]
	if !ok {
		return model.Instance{}, model.ErrNotFound
	}
	inst.CreatedAt = current.CreatedAt
	inst.UpdatedAt = time.Now().UTC()
	r.items[inst.ID] = persisted(inst)
	return inst, nil
}

func (r *instanceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return model.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

// persisted descarta o estado de conexão, que não sobrevive a um restart.
func persisted(inst model.Instance) model.Instance {
	events := make([]string, len(inst.WebhookEvents))
	copy(events, inst.WebhookEvents)
	return model.Instance{
		ID:             inst.ID,
		State:          model.InstanceStateDisconnected,
		WebhookURL:     inst.WebhookURL,
		WebhookEnabled: inst.WebhookURL != "",
		WebhookEvents:  events,
		CreatedAt:      inst.CreatedAt,
		UpdatedAt:      inst.UpdatedAt,
	}
}
