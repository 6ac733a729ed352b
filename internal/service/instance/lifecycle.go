package instance

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/metrics"
	"github.com/open-apime/apime-gateway/internal/session"
	"github.com/open-apime/apime-gateway/internal/storage/model"
)

// emission é um evento calculado sob lock e publicado depois de soltá-lo.
type emission struct {
	eventType string
	data      map[string]any
}

// detach solta o provider atual e invalida os eventos dele. Exige e.mu.
func (e *entry) detach() session.Provider {
	e.stopWatchdog()
	e.gen++
	prov := e.provider
	e.provider = nil
	return prov
}

// Connect leva disconnected -> connecting e inicia o provider em background.
// Em qualquer outro estado não faz nada e devolve o estado atual.
func (s *Service) Connect(ctx context.Context, id string) (model.Instance, error) {
	e := s.entry(id)
	if e == nil {
		return model.Instance{}, errNotFound(id)
	}
	return s.connect(ctx, id, e)
}

func (s *Service) connect(ctx context.Context, id string, e *entry) (model.Instance, error) {
	e.emitMu.Lock()
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		e.emitMu.Unlock()
		return model.Instance{}, errNotFound(id)
	}
	if e.inst.State != model.InstanceStateDisconnected {
		snap := cloneInstance(e.inst)
		e.mu.Unlock()
		e.emitMu.Unlock()
		return snap, nil
	}

	prov, err := s.factory.New(id)
	if err != nil {
		e.mu.Unlock()
		e.emitMu.Unlock()
		return model.Instance{}, mapProviderError(err)
	}
	old := e.detach()
	gen := e.gen
	e.provider = prov
	prov.OnEvent(func(evt session.Event) {
		s.handleProviderEvent(id, e, gen, evt)
	})

	out := s.transition(e, model.InstanceStateConnecting, nil)
	s.armWatchdog(id, e, gen)
	snap := cloneInstance(e.inst)
	e.mu.Unlock()
	s.publish(id, out)
	e.emitMu.Unlock()

	if old != nil {
		s.release(ctx, id, old)
	}
	go s.startProvider(id, e, gen, prov)

	return snap, nil
}

func (s *Service) startProvider(id string, e *entry, gen uint64, prov session.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	defer cancel()

	if err := prov.Connect(ctx); err != nil {
		s.log.Error("falha ao iniciar provider", logger.InstanceID(id), zap.Error(err))
		s.abortConnect(id, e, gen, "connect_failed", err.Error())
	}
}

// abortConnect volta a disconnected se gen ainda for a geração atual.
func (s *Service) abortConnect(id string, e *entry, gen uint64, reason, detail string) {
	e.emitMu.Lock()
	e.mu.Lock()
	if e.deleted || e.gen != gen || e.inst.State != model.InstanceStateConnecting {
		e.mu.Unlock()
		e.emitMu.Unlock()
		return
	}
	prov := e.detach()
	out := []emission{{eventType: model.EventError, data: map[string]any{"error": detail, "reason": reason}}}
	out = append(out, s.transition(e, model.InstanceStateDisconnected, map[string]any{"reason": reason})...)
	e.mu.Unlock()
	s.publish(id, out)
	e.emitMu.Unlock()

	if prov != nil {
		s.release(context.Background(), id, prov)
	}
}

// Disconnect é idempotente: desconecta se houver provider e garante disconnected.
func (s *Service) Disconnect(ctx context.Context, id string) (model.Instance, error) {
	e := s.entry(id)
	if e == nil {
		return model.Instance{}, errNotFound(id)
	}

	e.emitMu.Lock()
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		e.emitMu.Unlock()
		return model.Instance{}, errNotFound(id)
	}
	prov := e.detach()
	var out []emission
	if e.inst.State != model.InstanceStateDisconnected {
		out = s.transition(e, model.InstanceStateDisconnected, map[string]any{"reason": "requested"})
	}
	snap := cloneInstance(e.inst)
	e.mu.Unlock()
	s.publish(id, out)
	e.emitMu.Unlock()

	if prov != nil {
		if err := prov.Disconnect(ctx); err != nil {
			s.log.Warn("erro ao desconectar provider", logger.InstanceID(id), zap.Error(err))
		}
		s.release(ctx, id, prov)
	}
	return snap, nil
}

// Restart desconecta e conecta de novo, emitindo as duas transições.
func (s *Service) Restart(ctx context.Context, id string) (model.Instance, error) {
	if _, err := s.Disconnect(ctx, id); err != nil {
		return model.Instance{}, err
	}
	return s.Connect(ctx, id)
}

// Logout exige instância conectada; desconecta e invalida a sessão persistida.
func (s *Service) Logout(ctx context.Context, id string) (model.Instance, error) {
	e := s.entry(id)
	if e == nil {
		return model.Instance{}, errNotFound(id)
	}

	e.mu.Lock()
	prov := e.provider
	connected := e.inst.State == model.InstanceStateConnected
	deleted := e.deleted
	e.mu.Unlock()
	if deleted {
		return model.Instance{}, errNotFound(id)
	}
	if !connected || prov == nil {
		return model.Instance{}, errNotConnected()
	}

	if err := prov.Logout(ctx); err != nil {
		return model.Instance{}, mapProviderError(err)
	}

	e.emitMu.Lock()
	e.mu.Lock()
	var out []emission
	if !e.deleted && e.provider == prov {
		e.detach()
		out = s.transition(e, model.InstanceStateDisconnected, map[string]any{"reason": "logout"})
	}
	snap := cloneInstance(e.inst)
	e.mu.Unlock()
	s.publish(id, out)
	e.emitMu.Unlock()

	s.release(ctx, id, prov)
	if err := s.factory.Purge(id); err != nil {
		s.log.Warn("erro ao remover sessão após logout", logger.InstanceID(id), zap.Error(err))
	}
	s.log.Info("logout concluído", logger.InstanceID(id))
	return snap, nil
}

// Dispose libera o provider, descarta entregas pendentes e deixa a instância
// em disconnected. Idempotente.
func (s *Service) Dispose(ctx context.Context, id string) (model.Instance, error) {
	e := s.entry(id)
	if e == nil {
		return model.Instance{}, errNotFound(id)
	}

	e.emitMu.Lock()
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		e.emitMu.Unlock()
		return model.Instance{}, errNotFound(id)
	}
	prov := e.detach()
	e.mu.Unlock()
	e.emitMu.Unlock()

	if prov != nil {
		s.release(ctx, id, prov)
	}
	s.dispatcher.Cancel(ctx, id)

	e.emitMu.Lock()
	e.mu.Lock()
	var out []emission
	if !e.deleted && e.inst.State != model.InstanceStateDisconnected {
		out = s.transition(e, model.InstanceStateDisconnected, map[string]any{"reason": "disposed"})
	}
	snap := cloneInstance(e.inst)
	e.mu.Unlock()
	s.publish(id, out)
	e.emitMu.Unlock()

	s.log.Info("instância descartada", logger.InstanceID(id))
	return snap, nil
}

func (s *Service) SendText(ctx context.Context, id, to, text string) (string, error) {
	prov, err := s.connectedProvider(id)
	if err != nil {
		return "", err
	}
	msgID, err := prov.SendText(ctx, to, text)
	if err != nil {
		return "", mapProviderError(err)
	}
	return msgID, nil
}

func (s *Service) SendPresence(ctx context.Context, id string, available bool) error {
	prov, err := s.connectedProvider(id)
	if err != nil {
		return err
	}
	return mapProviderError(prov.SendPresence(ctx, available))
}

func (s *Service) CheckNumbers(ctx context.Context, id string, phones []string) ([]session.NumberStatus, error) {
	prov, err := s.connectedProvider(id)
	if err != nil {
		return nil, err
	}
	res, err := prov.CheckNumbers(ctx, phones)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return res, nil
}

func (s *Service) connectedProvider(id string) (session.Provider, error) {
	e := s.entry(id)
	if e == nil {
		return nil, errNotFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, errNotFound(id)
	}
	if e.inst.State != model.InstanceStateConnected || e.provider == nil {
		return nil, errNotConnected()
	}
	return e.provider, nil
}

// handleProviderEvent aplica a transição correspondente e repassa o evento ao
// despachante. Eventos de um provider que não é mais o atual são ignorados.
func (s *Service) handleProviderEvent(id string, e *entry, gen uint64, evt session.Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.deleted || e.gen != gen || e.provider == nil {
		e.mu.Unlock()
		s.log.Debug("evento de provider obsoleto ignorado", logger.InstanceID(id), logger.EventType(evt.Type))
		return
	}

	var out []emission
	switch evt.Type {
	case session.EventReady:
		if e.inst.State == model.InstanceStateConnected {
			break
		}
		e.stopWatchdog()
		data := cloneData(evt.Data)
		phone := evt.PhoneNumber
		if phone == "" {
			if p, ok := data["phoneNumber"].(string); ok {
				phone = p
			}
		}
		now := s.now()
		e.inst.PhoneNumber = &phone
		e.inst.ConnectedAt = &now
		out = s.transition(e, model.InstanceStateConnected, data)

	case session.EventDisconnected:
		if e.inst.State == model.InstanceStateDisconnected {
			break
		}
		e.stopWatchdog()
		out = s.transition(e, model.InstanceStateDisconnected, cloneData(evt.Data))

	case session.EventQR, session.EventMessage, session.EventMessageEdit,
		session.EventMessageDelete, session.EventMessageReaction, session.EventError:
		out = []emission{{eventType: evt.Type, data: cloneData(evt.Data)}}

	default:
		s.log.Debug("tipo de evento do provider desconhecido", logger.InstanceID(id), logger.EventType(evt.Type))
	}
	e.mu.Unlock()

	s.publish(id, out)
}

// transition altera o estado e mantém phoneNumber/connectedAt preenchidos só em
// connected. Exige e.mu. Devolve o evento de webhook da transição.
func (s *Service) transition(e *entry, to model.InstanceState, data map[string]any) []emission {
	from := e.inst.State
	e.inst.State = to
	e.inst.UpdatedAt = s.now()
	if to != model.InstanceStateConnected {
		e.inst.PhoneNumber = nil
		e.inst.ConnectedAt = nil
	}
	metrics.InstanceTransitions.WithLabelValues(string(to)).Inc()

	if data == nil {
		data = map[string]any{}
	}
	data["status"] = string(to)

	var eventType string
	switch to {
	case model.InstanceStateConnecting:
		eventType = model.EventConnecting
	case model.InstanceStateConnected:
		eventType = model.EventReady
		if e.inst.PhoneNumber != nil {
			data["phoneNumber"] = *e.inst.PhoneNumber
		}
		if e.inst.ConnectedAt != nil {
			data["connectedAt"] = e.inst.ConnectedAt.UnixMilli()
		}
	default:
		eventType = model.EventDisconnected
	}

	s.log.Info("transição de estado",
		logger.InstanceID(e.inst.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return []emission{{eventType: eventType, data: data}}
}

func (s *Service) publish(id string, out []emission) {
	for _, em := range out {
		s.dispatcher.Enqueue(id, s.dispatcher.NewEvent(id, em.eventType, em.data))
	}
}

func (s *Service) release(ctx context.Context, id string, prov session.Provider) {
	if err := prov.Release(ctx); err != nil && !errors.Is(err, session.ErrReleased) {
		s.log.Warn("erro ao liberar provider", logger.InstanceID(id), zap.Error(err))
	}
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	return out
}
