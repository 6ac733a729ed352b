package webhook

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/metrics"
	"github.com/open-apime/apime-gateway/internal/pkg/queue"
	"github.com/open-apime/apime-gateway/internal/storage/model"
	"github.com/open-apime/apime-gateway/internal/webhook/delivery"
)

var (
	ErrUnknownInstance = errors.New("webhook: instância não registrada")
	ErrNoWebhook       = errors.New("webhook: instância sem webhookUrl")
	ErrUnknownEvent    = errors.New("webhook: tipo de evento não reconhecido")
)

// Attempter faz uma única tentativa de entrega.
type Attempter interface {
	Attempt(ctx context.Context, url string, event model.WebhookEvent, attempt int) delivery.Result
}

type Options struct {
	MaxRetries    int
	RetryDelay    time.Duration
	BackoffFactor float64
	// Intervalo de espera do worker na fila antes de reavaliar o contexto.
	PollInterval time.Duration
	// Tempo máximo aguardando o worker encerrar em Cancel/Remove.
	StopTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 6
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	return o
}

// Status é a visão exposta em GET /instances/:id/webhook/status.
// Stats.Queued conta só eventos aceitos para entrega; eventos descartados por
// falta de webhookUrl ou de assinatura não entram na contagem.
type Status struct {
	InstanceID    string             `json:"instanceId"`
	WebhookURL    *string            `json:"webhookUrl"`
	WebhookEvents []string           `json:"webhookEvents"`
	Pending       int64              `json:"pending"`
	Stats         model.WebhookStats `json:"stats"`
}

type entry struct {
	mu      sync.Mutex
	url     string
	events  []string
	cancel  context.CancelFunc
	done    chan struct{}
	removed bool
}

func (e *entry) target() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

func (e *entry) accepts(eventType string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.url == "" {
		return e.url, false
	}
	inst := model.Instance{WebhookEvents: e.events}
	return e.url, inst.Subscribes(eventType)
}

// Dispatcher mantém uma fila FIFO e um worker por instância. O worker entrega
// um evento por vez e só passa ao próximo depois de entregar ou esgotar as
// tentativas do atual.
type Dispatcher struct {
	queue    queue.Queue
	attempts Attempter
	stats    *Stats
	opts     Options
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	lastTS  atomic.Int64
	now     func() time.Time
}

func NewDispatcher(q queue.Queue, attempts Attempter, stats *Stats, opts Options, log *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:    q,
		attempts: attempts,
		stats:    stats,
		opts:     opts.withDefaults(),
		log:      log,
		entries:  make(map[string]*entry),
		baseCtx:  ctx,
		stop:     cancel,
		now:      time.Now,
	}
}

// NewEvent cria um evento com id novo e timestamp não decrescente.
func (d *Dispatcher) NewEvent(instanceID, eventType string, payload map[string]any) model.WebhookEvent {
	ts := d.now().UnixMilli()
	for {
		last := d.lastTS.Load()
		if ts < last {
			ts = last
		}
		if d.lastTS.CompareAndSwap(last, ts) {
			break
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return model.WebhookEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		InstanceID: instanceID,
		Timestamp:  ts,
		Payload:    payload,
	}
}

// Register registra a instância e zera suas estatísticas.
func (d *Dispatcher) Register(instanceID, url string, events []string) {
	d.mu.Lock()
	if old, ok := d.entries[instanceID]; ok {
		old.mu.Lock()
		old.removed = true
		old.mu.Unlock()
	}
	d.entries[instanceID] = &entry{url: url, events: cloneEvents(events)}
	d.mu.Unlock()
	d.stats.Reset(instanceID)
}

// Configure troca URL e eventos. Eventos já enfileirados são entregues na URL nova.
func (d *Dispatcher) Configure(instanceID, url string, events []string) error {
	e := d.entry(instanceID)
	if e == nil {
		return ErrUnknownInstance
	}
	e.mu.Lock()
	e.url = url
	e.events = cloneEvents(events)
	e.mu.Unlock()
	return nil
}

// Enqueue nunca bloqueia nem retorna erro; eventos sem destino são descartados
// sem incrementar queued.
func (d *Dispatcher) Enqueue(instanceID string, event model.WebhookEvent) {
	e := d.entry(instanceID)
	if e == nil {
		d.drop(instanceID, event, "unknown_instance")
		return
	}
	if _, ok := e.accepts(event.Type); !ok {
		d.drop(instanceID, event, "not_subscribed")
		return
	}
	d.push(instanceID, e, event)
}

// TestDelivery sintetiza um evento e o envia pelo mesmo caminho da fila,
// ignorando o filtro de assinatura.
func (d *Dispatcher) TestDelivery(instanceID, eventType string) (model.WebhookEvent, error) {
	if eventType == "" {
		eventType = model.EventTest
	}
	if eventType != model.EventTest && !model.IsRecognizedEvent(eventType) {
		return model.WebhookEvent{}, ErrUnknownEvent
	}
	e := d.entry(instanceID)
	if e == nil {
		return model.WebhookEvent{}, ErrUnknownInstance
	}
	if e.target() == "" {
		return model.WebhookEvent{}, ErrNoWebhook
	}

	event := d.NewEvent(instanceID, eventType, map[string]any{
		"test":    true,
		"message": "evento de teste do ApiMe",
	})
	d.push(instanceID, e, event)
	return event, nil
}

// Status retorna a configuração atual, o tamanho da fila e as estatísticas
// (queued = eventos aceitos, delivered, failed = tentativas falhas).
func (d *Dispatcher) Status(ctx context.Context, instanceID string) (Status, error) {
	e := d.entry(instanceID)
	if e == nil {
		return Status{}, ErrUnknownInstance
	}
	e.mu.Lock()
	st := Status{
		InstanceID:    instanceID,
		WebhookEvents: cloneEvents(e.events),
	}
	if e.url != "" {
		url := e.url
		st.WebhookURL = &url
	}
	e.mu.Unlock()

	if n, err := d.queue.Size(ctx, instanceID); err == nil {
		st.Pending = n
	}
	st.Stats = d.stats.Snapshot(instanceID)
	return st, nil
}

// Cancel interrompe a tentativa em andamento e a espera de retry, e descarta a fila.
// A instância continua registrada; novos eventos voltam a iniciar o worker.
func (d *Dispatcher) Cancel(ctx context.Context, instanceID string) {
	e := d.entry(instanceID)
	if e == nil {
		return
	}
	d.cancel(ctx, instanceID, e)
}

// Remove cancela o worker, descarta a fila e esquece a instância.
func (d *Dispatcher) Remove(ctx context.Context, instanceID string) {
	d.mu.Lock()
	e, ok := d.entries[instanceID]
	delete(d.entries, instanceID)
	d.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	d.cancel(ctx, instanceID, e)
	d.stats.Remove(instanceID)
}

// Stop encerra todos os workers e aguarda a saída deles.
func (d *Dispatcher) Stop() {
	d.log.Info("webhook dispatcher: encerrando")
	d.stop()
	d.wg.Wait()
	d.log.Info("webhook dispatcher: encerrado")
}

func (d *Dispatcher) entry(instanceID string) *entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries[instanceID]
}

func (d *Dispatcher) drop(instanceID string, event model.WebhookEvent, reason string) {
	metrics.WebhookDropped.WithLabelValues(reason).Inc()
	d.log.Debug("webhook dispatcher: evento descartado",
		logger.InstanceID(instanceID),
		logger.EventType(event.Type),
		zap.String("reason", reason),
	)
}

func (d *Dispatcher) push(instanceID string, e *entry, event model.WebhookEvent) {
	if err := d.queue.Enqueue(d.baseCtx, instanceID, event); err != nil {
		metrics.WebhookDropped.WithLabelValues("queue_error").Inc()
		d.log.Warn("webhook dispatcher: falha ao enfileirar",
			logger.InstanceID(instanceID),
			logger.EventID(event.ID),
			zap.Error(err),
		)
		return
	}
	d.stats.incQueued(instanceID)
	metrics.WebhookEnqueued.WithLabelValues(event.Type).Inc()
	d.ensureWorker(instanceID, e)
}

func (d *Dispatcher) ensureWorker(instanceID string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil || e.removed || d.baseCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(d.baseCtx)
	e.cancel = cancel
	e.done = make(chan struct{})

	d.wg.Add(1)
	go d.run(ctx, instanceID, e, e.done)
}

func (d *Dispatcher) cancel(ctx context.Context, instanceID string, e *entry) {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(d.opts.StopTimeout):
			d.log.Warn("webhook dispatcher: worker não encerrou a tempo", logger.InstanceID(instanceID))
		}
	}

	n, err := d.queue.Purge(ctx, instanceID)
	if err != nil {
		d.log.Warn("webhook dispatcher: falha ao descartar fila", logger.InstanceID(instanceID), zap.Error(err))
		return
	}
	if n > 0 {
		d.log.Info("webhook dispatcher: eventos pendentes descartados",
			logger.InstanceID(instanceID),
			zap.Int64("count", n),
		)
	}
}

func (d *Dispatcher) run(ctx context.Context, instanceID string, e *entry, done chan struct{}) {
	defer d.wg.Done()
	defer close(done)

	d.log.Debug("webhook dispatcher: worker iniciado", logger.InstanceID(instanceID))
	for {
		event, err := d.queue.Dequeue(ctx, instanceID, d.opts.PollInterval)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return
			}
			d.log.Error("webhook dispatcher: erro ao desenfileirar", logger.InstanceID(instanceID), zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if event == nil {
			continue
		}
		d.deliver(ctx, e, *event)
	}
}

// deliver tenta o evento até entregar, esgotar as tentativas ou ser cancelado.
func (d *Dispatcher) deliver(ctx context.Context, e *entry, event model.WebhookEvent) {
	att := model.DeliveryAttempt{
		Event:         event,
		AttemptNumber: 1,
		Outcome:       model.DeliveryPending,
	}
	fields := []zap.Field{logger.InstanceID(event.InstanceID), logger.EventID(event.ID), logger.EventType(event.Type)}

	for {
		url := e.target()
		if url == "" {
			d.log.Info("webhook dispatcher: webhook removido, evento descartado", fields...)
			return
		}

		res := d.attempts.Attempt(ctx, url, event, att.AttemptNumber)
		if ctx.Err() != nil {
			return
		}
		att.StatusCode = res.StatusCode

		if res.Delivered() {
			att.Outcome = model.DeliveryDelivered
			d.stats.incDelivered(event.InstanceID)
			observe(event.Type, "delivered", res.Duration)
			d.log.Info("webhook dispatcher: evento entregue",
				append(fields, logger.Attempt(att.AttemptNumber), zap.Int("status", res.StatusCode))...)
			return
		}

		att.LastError = res.Error()
		d.stats.incFailed(event.InstanceID)
		observe(event.Type, "failed", res.Duration)

		if att.AttemptNumber >= d.opts.MaxRetries {
			att.Outcome = model.DeliveryFailed
			metrics.WebhookExhausted.WithLabelValues(event.Type).Inc()
			d.log.Warn("webhook dispatcher: tentativas esgotadas",
				append(fields, logger.Attempt(att.AttemptNumber), zap.String("error", att.LastError))...)
			return
		}

		wait := d.backoff(att.AttemptNumber)
		att.NextRetryAt = d.now().Add(wait)
		d.log.Warn("webhook dispatcher: falha na entrega, agendando retry",
			append(fields,
				logger.Attempt(att.AttemptNumber),
				zap.String("error", att.LastError),
				zap.Time("next_retry_at", att.NextRetryAt),
			)...)

		if !sleep(ctx, wait) {
			return
		}
		att.AttemptNumber++
	}
}

// backoff = retryDelay * factor^(attempt-1).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if d.opts.RetryDelay <= 0 {
		return 0
	}
	delay := float64(d.opts.RetryDelay) * math.Pow(d.opts.BackoffFactor, float64(attempt-1))
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func observe(eventType, outcome string, took time.Duration) {
	metrics.WebhookAttempts.WithLabelValues(eventType, outcome).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, outcome).Observe(float64(took.Milliseconds()))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func cloneEvents(events []string) []string {
	out := make([]string, len(events))
	copy(out, events)
	return out
}
