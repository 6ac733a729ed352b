// Package stub implementa um provider determinístico, usado em testes e com PROVIDER=stub.
package stub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/apime-gateway/internal/session"
)

// SentMessage registra um envio feito pelo provider.
type SentMessage struct {
	ID   string
	To   string
	Text string
}

type Provider struct {
	instanceID string
	factory    *Factory

	mu          sync.Mutex
	handler     session.Handler
	connected   bool
	released    bool
	connectErr  error
	presence    *bool
	sent        []SentMessage
	connects    int
	disconnects int
	logouts     int
}

func (p *Provider) OnEvent(handler session.Handler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return session.ErrReleased
	}
	if p.connectErr != nil {
		err := p.connectErr
		p.mu.Unlock()
		return err
	}
	p.connects++
	p.mu.Unlock()

	if p.factory.AutoReady {
		go func() {
			time.Sleep(p.factory.ReadyDelay)
			p.EmitQR("stub-qr-" + p.instanceID)
			time.Sleep(p.factory.ReadyDelay)
			p.EmitReady(p.factory.Phone)
		}()
	}
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.disconnects++
	p.mu.Unlock()
	return nil
}

func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.logouts++
	p.mu.Unlock()
	return p.factory.Purge(p.instanceID)
}

func (p *Provider) Release(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.released = true
	p.handler = nil
	p.mu.Unlock()
	return nil
}

func (p *Provider) SendText(ctx context.Context, to, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return "", session.ErrNotConnected
	}
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20]
	p.sent = append(p.sent, SentMessage{ID: id, To: to, Text: text})
	return id, nil
}

func (p *Provider) SendPresence(ctx context.Context, available bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return session.ErrNotConnected
	}
	p.presence = &available
	return nil
}

func (p *Provider) CheckNumbers(ctx context.Context, phones []string) ([]session.NumberStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, session.ErrNotConnected
	}
	out := make([]session.NumberStatus, 0, len(phones))
	for _, phone := range phones {
		// Números terminados em 0 são tratados como inexistentes.
		exists := phone != "" && !strings.HasSuffix(phone, "0")
		st := session.NumberStatus{Phone: phone, Exists: exists}
		if exists {
			st.JID = phone + "@s.whatsapp.net"
		}
		out = append(out, st)
	}
	return out, nil
}

// FailConnect faz as próximas chamadas a Connect retornarem err.
func (p *Provider) FailConnect(err error) {
	p.mu.Lock()
	p.connectErr = err
	p.mu.Unlock()
}

func (p *Provider) EmitQR(code string) {
	p.emit(session.Event{Type: session.EventQR, Data: map[string]any{"qr": code}})
}

func (p *Provider) EmitReady(phone string) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.emit(session.Event{Type: session.EventReady, PhoneNumber: phone, Data: map[string]any{"phoneNumber": phone}})
}

func (p *Provider) EmitDisconnected(reason string) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": reason}})
}

func (p *Provider) EmitError(err error) {
	p.emit(session.Event{Type: session.EventError, Data: map[string]any{"error": err.Error()}})
}

// Emit envia um evento arbitrário (message, message_edit, ...).
func (p *Provider) Emit(eventType string, data map[string]any) {
	p.emit(session.Event{Type: eventType, Data: data})
}

func (p *Provider) emit(evt session.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (p *Provider) Sent() []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentMessage(nil), p.sent...)
}

func (p *Provider) Presence() (available, set bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.presence == nil {
		return false, false
	}
	return *p.presence, true
}

func (p *Provider) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Counts retorna quantas vezes Connect, Disconnect e Logout foram chamados.
func (p *Provider) Counts() (connects, disconnects, logouts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects, p.disconnects, p.logouts
}

type Factory struct {
	// AutoReady emite qr e ready sozinho após Connect.
	AutoReady  bool
	ReadyDelay time.Duration
	Phone      string
	// ConnectErr é aplicado a todo provider criado depois de definido.
	ConnectErr error

	mu        sync.Mutex
	providers map[string][]*Provider
	sessions  map[string]bool
}

func NewFactory() *Factory {
	return &Factory{
		Phone:      "5500000000000",
		ReadyDelay: 50 * time.Millisecond,
		providers:  make(map[string][]*Provider),
		sessions:   make(map[string]bool),
	}
}

func (f *Factory) New(instanceID string) (session.Provider, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("stub: instanceID vazio")
	}
	f.mu.Lock()
	p := &Provider{instanceID: instanceID, factory: f, connectErr: f.ConnectErr}
	f.providers[instanceID] = append(f.providers[instanceID], p)
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) HasSession(instanceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[instanceID]
}

// StoreSession marca a instância como tendo sessão persistida.
func (f *Factory) StoreSession(instanceID string) {
	f.mu.Lock()
	f.sessions[instanceID] = true
	f.mu.Unlock()
}

func (f *Factory) Purge(instanceID string) error {
	f.mu.Lock()
	delete(f.sessions, instanceID)
	f.mu.Unlock()
	return nil
}

// Last retorna o provider mais recente criado para a instância.
func (f *Factory) Last(instanceID string) *Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.providers[instanceID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Created retorna quantos providers foram criados para a instância.
func (f *Factory) Created(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.providers[instanceID])
}
