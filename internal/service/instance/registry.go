// Package instance mantém o registro de instâncias e a máquina de estados de conexão.
package instance

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/metrics"
	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/session"
	"github.com/open-apime/apime-gateway/internal/storage"
	"github.com/open-apime/apime-gateway/internal/storage/model"
	"github.com/open-apime/apime-gateway/internal/webhook"
)

// Dispatcher é a parte do despachante de webhooks usada pelo serviço.
type Dispatcher interface {
	NewEvent(instanceID, eventType string, payload map[string]any) model.WebhookEvent
	Register(instanceID, url string, events []string)
	Configure(instanceID, url string, events []string) error
	Enqueue(instanceID string, event model.WebhookEvent)
	TestDelivery(instanceID, eventType string) (model.WebhookEvent, error)
	Status(ctx context.Context, instanceID string) (webhook.Status, error)
	Cancel(ctx context.Context, instanceID string)
	Remove(ctx context.Context, instanceID string)
}

type Options struct {
	// ConnectTimeout limita o tempo em connecting antes de voltar a disconnected.
	ConnectTimeout time.Duration
	// AutoRestore reconecta na subida instâncias com sessão persistida.
	AutoRestore bool
}

type CreateInput struct {
	ID            string
	WebhookURL    string
	WebhookEvents []string
}

// UpdateInput carrega apenas os campos enviados; nil significa "manter".
type UpdateInput struct {
	WebhookURL    *string
	WebhookEvents *[]string
}

type entry struct {
	// cfgMu serializa Update e Delete; ordem de aquisição: cfgMu, emitMu, mu.
	cfgMu sync.Mutex
	// emitMu serializa transição + enfileiramento para manter a ordem dos eventos.
	emitMu sync.Mutex

	mu       sync.Mutex
	inst     model.Instance
	provider session.Provider
	gen      uint64
	watchdog *time.Timer
	// deleted marca a entrada removida do mapa; operações que ainda a seguram viram NOT_FOUND.
	deleted bool
}

func (e *entry) snapshot() model.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneInstance(e.inst)
}

type Service struct {
	repo       storage.InstanceRepository
	factory    session.Factory
	dispatcher Dispatcher
	opts       Options
	log        *zap.Logger

	mu        sync.RWMutex
	instances map[string]*entry
	reserved  map[string]struct{}

	now func() time.Time
}

func NewService(repo storage.InstanceRepository, factory session.Factory, dispatcher Dispatcher, opts Options, log *zap.Logger) *Service {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 3 * time.Minute
	}
	return &Service{
		repo:       repo,
		factory:    factory,
		dispatcher: dispatcher,
		opts:       opts,
		log:        log,
		instances:  make(map[string]*entry),
		reserved:   make(map[string]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, input CreateInput) (model.Instance, error) {
	id := strings.TrimSpace(input.ID)
	webhookURL := strings.TrimSpace(input.WebhookURL)
	if err := validateID(id); err != nil {
		return model.Instance{}, err
	}
	if err := validateWebhookURL(webhookURL); err != nil {
		return model.Instance{}, err
	}
	events, err := normalizeEvents(input.WebhookEvents)
	if err != nil {
		return model.Instance{}, err
	}

	s.mu.Lock()
	_, exists := s.instances[id]
	_, pending := s.reserved[id]
	if exists || pending {
		s.mu.Unlock()
		return model.Instance{}, apperror.Conflict("instância já existe: " + id)
	}
	s.reserved[id] = struct{}{}
	s.mu.Unlock()

	now := s.now()
	inst := model.Instance{
		ID:             id,
		State:          model.InstanceStateDisconnected,
		WebhookURL:     webhookURL,
		WebhookEnabled: webhookURL != "",
		WebhookEvents:  events,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.repo.Create(ctx, inst)
	if err != nil {
		s.mu.Lock()
		delete(s.reserved, id)
		s.mu.Unlock()
		return model.Instance{}, mapStorageError(id, err)
	}
	created.State = model.InstanceStateDisconnected
	created.WebhookEnabled = created.WebhookURL != ""

	s.dispatcher.Register(id, created.WebhookURL, created.WebhookEvents)

	e := &entry{inst: created}
	s.mu.Lock()
	delete(s.reserved, id)
	s.instances[id] = e
	s.mu.Unlock()
	metrics.Instances.Inc()

	s.log.Info("instância criada", logger.InstanceID(id), zap.Bool("webhook_enabled", created.WebhookEnabled))
	return e.snapshot(), nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Instance, error) {
	e := s.entry(id)
	if e == nil {
		return model.Instance{}, errNotFound(id)
	}
	return e.snapshot(), nil
}

func (s *Service) List(ctx context.Context) ([]model.Instance, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.instances))
	for _, e := range s.instances {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.Instance, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update altera somente a configuração de webhook. webhookUrl vazio desliga o webhook.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (model.Instance, error) {
	e := s.entry(id)
	if e == nil {
		return model.Instance{}, errNotFound(id)
	}

	var events []string
	if input.WebhookEvents != nil {
		normalized, err := normalizeEvents(*input.WebhookEvents)
		if err != nil {
			return model.Instance{}, err
		}
		events = normalized
	}
	var webhookURL string
	if input.WebhookURL != nil {
		webhookURL = strings.TrimSpace(*input.WebhookURL)
		if err := validateWebhookURL(webhookURL); err != nil {
			return model.Instance{}, err
		}
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return model.Instance{}, errNotFound(id)
	}
	merged := cloneInstance(e.inst)
	e.mu.Unlock()
	if input.WebhookURL != nil {
		merged.WebhookURL = webhookURL
		merged.WebhookEnabled = webhookURL != ""
	}
	if input.WebhookEvents != nil {
		merged.WebhookEvents = events
	}
	merged.UpdatedAt = s.now()

	if _, err := s.repo.Update(ctx, merged); err != nil {
		return model.Instance{}, mapStorageError(id, err)
	}

	e.mu.Lock()
	e.inst.WebhookURL = merged.WebhookURL
	e.inst.WebhookEnabled = merged.WebhookEnabled
	e.inst.WebhookEvents = merged.WebhookEvents
	e.inst.UpdatedAt = merged.UpdatedAt
	e.mu.Unlock()

	if err := s.dispatcher.Configure(id, merged.WebhookURL, merged.WebhookEvents); err != nil {
		return model.Instance{}, mapWebhookError(id, err)
	}

	s.log.Info("webhook da instância atualizado", logger.InstanceID(id), zap.Bool("webhook_enabled", merged.WebhookEnabled))
	return e.snapshot(), nil
}

// Delete desconecta à força, libera a sessão, cancela o worker de entrega e remove a instância.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()
	if !ok {
		return errNotFound(id)
	}
	metrics.Instances.Dec()

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.emitMu.Lock()
	e.mu.Lock()
	e.deleted = true
	prov := e.detach()
	e.inst.State = model.InstanceStateDisconnected
	e.inst.PhoneNumber = nil
	e.inst.ConnectedAt = nil
	e.mu.Unlock()
	e.emitMu.Unlock()

	if prov != nil {
		if err := prov.Disconnect(ctx); err != nil {
			s.log.Warn("erro ao desconectar provider na remoção", logger.InstanceID(id), zap.Error(err))
		}
		if err := prov.Release(ctx); err != nil {
			s.log.Warn("erro ao liberar provider na remoção", logger.InstanceID(id), zap.Error(err))
		}
	}
	if err := s.factory.Purge(id); err != nil {
		s.log.Warn("erro ao remover sessão persistida", logger.InstanceID(id), zap.Error(err))
	}
	s.dispatcher.Remove(ctx, id)

	if err := s.repo.Delete(ctx, id); err != nil && !isNotFound(err) {
		s.log.Error("erro ao remover instância do repositório", logger.InstanceID(id), zap.Error(err))
		return apperror.Internal(err)
	}

	s.log.Info("instância removida", logger.InstanceID(id))
	return nil
}

// Restore carrega as instâncias persistidas como disconnected e, com AutoRestore,
// reconecta as que têm sessão salva.
func (s *Service) Restore(ctx context.Context) error {
	list, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	var toConnect []string
	restored := 0
	for _, inst := range list {
		inst.State = model.InstanceStateDisconnected
		inst.PhoneNumber = nil
		inst.ConnectedAt = nil
		inst.WebhookEnabled = inst.WebhookURL != ""

		s.mu.Lock()
		_, exists := s.instances[inst.ID]
		if !exists {
			s.instances[inst.ID] = &entry{inst: inst}
		}
		s.mu.Unlock()
		if exists {
			continue
		}
		restored++
		metrics.Instances.Inc()
		s.dispatcher.Register(inst.ID, inst.WebhookURL, inst.WebhookEvents)

		if s.opts.AutoRestore && s.factory.HasSession(inst.ID) {
			toConnect = append(toConnect, inst.ID)
		}
	}

	s.log.Info("instâncias restauradas", zap.Int("total", restored), zap.Int("auto_connect", len(toConnect)))
	for _, id := range toConnect {
		if _, err := s.Connect(ctx, id); err != nil {
			s.log.Warn("falha ao restaurar sessão", logger.InstanceID(id), zap.Error(err))
		}
	}
	return nil
}

// Shutdown desconecta todos os providers sem apagar sessões persistidas.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.instances))
	for id, e := range s.instances {
		entries[id] = e
	}
	s.mu.RUnlock()

	for id, e := range entries {
		e.mu.Lock()
		prov := e.detach()
		e.mu.Unlock()
		if prov == nil {
			continue
		}
		if err := prov.Release(ctx); err != nil {
			s.log.Warn("erro ao liberar provider no shutdown", logger.InstanceID(id), zap.Error(err))
		}
	}
}

// WebhookStatus retorna URL, eventos assinados e estatísticas de entrega.
func (s *Service) WebhookStatus(ctx context.Context, id string) (webhook.Status, error) {
	if s.entry(id) == nil {
		return webhook.Status{}, errNotFound(id)
	}
	st, err := s.dispatcher.Status(ctx, id)
	if err != nil {
		return webhook.Status{}, mapWebhookError(id, err)
	}
	return st, nil
}

// TestWebhook agenda um evento sintético pelo mesmo caminho de entrega.
func (s *Service) TestWebhook(ctx context.Context, id, eventType string) (model.WebhookEvent, error) {
	if s.entry(id) == nil {
		return model.WebhookEvent{}, errNotFound(id)
	}
	evt, err := s.dispatcher.TestDelivery(id, strings.TrimSpace(eventType))
	if err != nil {
		return model.WebhookEvent{}, mapWebhookError(id, err)
	}
	s.log.Info("evento de teste agendado", logger.InstanceID(id), logger.EventID(evt.ID), logger.EventType(evt.Type))
	return evt, nil
}

func (s *Service) entry(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[id]
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return apperror.InvalidRequest("instanceId inválido", map[string]string{
			"instanceId": "deve casar com ^[A-Za-z0-9_-]{1,64}$",
		})
	}
	return nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperror.InvalidRequest("webhookUrl inválido", map[string]string{
			"webhookUrl": "deve ser uma URL http(s) absoluta",
		})
	}
	return nil
}

// normalizeEvents valida as tags e remove duplicatas mantendo a ordem.
func normalizeEvents(events []string) ([]string, error) {
	out := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, evt := range events {
		evt = strings.TrimSpace(evt)
		if !model.IsRecognizedEvent(evt) {
			return nil, apperror.InvalidRequest("webhookEvents contém evento desconhecido", map[string]string{
				"webhookEvents": "evento desconhecido: " + evt + "; aceitos: " + strings.Join(model.RecognizedEvents(), ", "),
			})
		}
		if _, dup := seen[evt]; dup {
			continue
		}
		seen[evt] = struct{}{}
		out = append(out, evt)
	}
	return out, nil
}

func cloneInstance(inst model.Instance) model.Instance {
	out := inst
	out.WebhookEvents = append([]string{}, inst.WebhookEvents...)
	if inst.PhoneNumber != nil {
		phone := *inst.PhoneNumber
		out.PhoneNumber = &phone
	}
	if inst.ConnectedAt != nil {
		at := *inst.ConnectedAt
		out.ConnectedAt = &at
	}
	return out
}
