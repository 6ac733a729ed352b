package whatsmeow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // driver das sessões whatsmeow
	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/session"
)

// Factory cria providers com sessão SQLite própria em SESSION_DIR/<instanceId>.db.
type Factory struct {
	baseDir string
	log     *zap.Logger
}

func NewFactory(baseDir string, log *zap.Logger) (*Factory, error) {
	if baseDir == "" {
		baseDir = "/app/data/sessions"
		log.Warn("SESSION_DIR não definido, usando diretório padrão do container", zap.String("dir", baseDir))
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("whatsmeow: criar diretório de sessões: %w", err)
	}
	return &Factory{baseDir: baseDir, log: log}, nil
}

func (f *Factory) dbPath(instanceID string) string {
	return filepath.Join(f.baseDir, instanceID+".db")
}

func (f *Factory) New(instanceID string) (session.Provider, error) {
	return &Provider{
		instanceID: instanceID,
		dbPath:     f.dbPath(instanceID),
		log:        f.log.With(logger.InstanceID(instanceID)),
		messages:   NewMessageStore(1000),
	}, nil
}

// HasSession abre o store e verifica se o device já foi pareado.
func (f *Factory) HasSession(instanceID string) bool {
	path := f.dbPath(instanceID)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	ctx := context.Background()
	container, err := sqlstore.New(ctx, "sqlite3", sqliteDSN(path), newLogger(f.log, "store"))
	if err != nil {
		return false
	}
	defer container.Close()
	device, err := container.GetFirstDevice(ctx)
	return err == nil && device.ID != nil && !device.ID.IsEmpty()
}

func (f *Factory) Purge(instanceID string) error {
	return purgeFiles(f.dbPath(instanceID))
}

func purgeFiles(path string) error {
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on", path)
}

type Provider struct {
	instanceID string
	dbPath     string
	log        *zap.Logger
	messages   *MessageStore

	mu        sync.Mutex
	handler   session.Handler
	client    *whatsmeow.Client
	container *sqlstore.Container
	qrCancel  context.CancelFunc
	released  bool
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
	if p.client != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	container, err := sqlstore.New(ctx, "sqlite3", sqliteDSN(p.dbPath), newLogger(p.log, "store"))
	if err != nil {
		return fmt.Errorf("whatsmeow: criar store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("whatsmeow: obter device: %w", err)
	}

	client := whatsmeow.NewClient(device, newLogger(p.log, "client"))
	client.EnableAutoReconnect = true
	client.GetMessageForRetry = func(requester, to types.JID, id types.MessageID) *waE2E.Message {
		return p.messages.Get(to, id)
	}
	client.AddEventHandler(func(evt any) {
		p.handleEvent(client, evt)
	})

	var (
		qrChan   <-chan whatsmeow.QRChannelItem
		qrCancel context.CancelFunc
	)
	if client.Store.ID == nil {
		var qrCtx context.Context
		qrCtx, qrCancel = context.WithCancel(context.Background())
		qrChan, err = client.GetQRChannel(qrCtx)
		if err != nil {
			qrCancel()
			container.Close()
			return fmt.Errorf("whatsmeow: obter canal QR: %w", err)
		}
	}

	if err := client.Connect(); err != nil {
		if qrCancel != nil {
			qrCancel()
		}
		container.Close()
		return fmt.Errorf("whatsmeow: conectar: %w", err)
	}

	if err := p.attach(client, container, qrCancel, func() {
		if qrCancel != nil {
			qrCancel()
		}
		client.Disconnect()
		container.Close()
	}); err != nil {
		p.log.Info("whatsmeow: provider liberado durante a conexão, descartando cliente")
		return err
	}

	if qrChan != nil {
		go p.monitorQR(qrChan)
		p.log.Info("whatsmeow: cliente conectado, aguardando QR code")
	} else {
		p.log.Info("whatsmeow: restaurando sessão existente")
	}
	return nil
}

// attach guarda o cliente recém-conectado. Se Release ocorreu durante a conexão,
// executa teardown e devolve ErrReleased.
func (p *Provider) attach(client *whatsmeow.Client, container *sqlstore.Container, qrCancel context.CancelFunc, teardown func()) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		teardown()
		return session.ErrReleased
	}
	p.client = client
	p.container = container
	p.qrCancel = qrCancel
	p.mu.Unlock()
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	client, container, cancel := p.client, p.container, p.qrCancel
	p.client, p.container, p.qrCancel = nil, nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			p.log.Warn("whatsmeow: erro ao fechar store", zap.Error(err))
		}
	}
	return nil
}

// Logout desloga no servidor e remove o arquivo de sessão.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsLoggedIn() {
		return session.ErrNotConnected
	}
	if err := client.Logout(ctx); err != nil {
		p.log.Warn("whatsmeow: logout falhou, forçando disconnect", zap.Error(err))
	}
	_ = p.Disconnect(ctx)
	if err := purgeFiles(p.dbPath); err != nil {
		return fmt.Errorf("whatsmeow: remover sessão: %w", err)
	}
	p.log.Info("whatsmeow: logout concluído")
	return nil
}

func (p *Provider) Release(ctx context.Context) error {
	p.mu.Lock()
	p.released = true
	p.handler = nil
	p.mu.Unlock()
	return p.Disconnect(ctx)
}

func (p *Provider) loggedIn() (*whatsmeow.Client, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || !client.IsLoggedIn() {
		return nil, session.ErrNotConnected
	}
	return client, nil
}

func (p *Provider) SendText(ctx context.Context, to, text string) (string, error) {
	client, err := p.loggedIn()
	if err != nil {
		return "", err
	}
	jid, err := toJID(to)
	if err != nil {
		return "", err
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("whatsmeow: enviar mensagem: %w", err)
	}
	p.messages.Put(jid, resp.ID, msg)
	return resp.ID, nil
}

func (p *Provider) SendPresence(ctx context.Context, available bool) error {
	client, err := p.loggedIn()
	if err != nil {
		return err
	}
	presence := types.PresenceUnavailable
	if available {
		presence = types.PresenceAvailable
	}
	return client.SendPresence(ctx, presence)
}

func (p *Provider) CheckNumbers(ctx context.Context, phones []string) ([]session.NumberStatus, error) {
	client, err := p.loggedIn()
	if err != nil {
		return nil, err
	}

	queries := make([]string, 0, len(phones))
	for _, phone := range phones {
		queries = append(queries, "+"+onlyDigits(phone))
	}
	resp, err := client.IsOnWhatsApp(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("whatsmeow: consultar números: %w", err)
	}

	byQuery := make(map[string]types.IsOnWhatsAppResponse, len(resp))
	for _, item := range resp {
		byQuery[strings.TrimPrefix(item.Query, "+")] = item
	}

	out := make([]session.NumberStatus, 0, len(phones))
	for i, phone := range phones {
		st := session.NumberStatus{Phone: phone}
		if item, ok := byQuery[strings.TrimPrefix(queries[i], "+")]; ok && item.IsIn {
			st.Exists = true
			st.JID = item.JID.String()
		}
		out = append(out, st)
	}
	return out, nil
}

func (p *Provider) emit(evt session.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (p *Provider) monitorQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			data := map[string]any{
				"qr":        item.Code,
				"timeoutMs": item.Timeout.Milliseconds(),
			}
			if png, err := qrcode.Encode(item.Code, qrcode.Medium, 256); err == nil {
				data["qrImage"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
			} else {
				p.log.Warn("whatsmeow: falha ao gerar imagem do QR", zap.Error(err))
			}
			p.emit(session.Event{Type: session.EventQR, Data: data})
		case "success":
			p.log.Info("whatsmeow: pareamento concluído")
		case "timeout":
			p.log.Warn("whatsmeow: QR code expirou sem pareamento")
			p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "qr_timeout"}})
		default:
			data := map[string]any{"reason": item.Event}
			if item.Error != nil {
				data["error"] = item.Error.Error()
			}
			p.emit(session.Event{Type: session.EventError, Data: data})
			p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": item.Event}})
		}
	}
}

func (p *Provider) handleEvent(client *whatsmeow.Client, evt any) {
	switch v := evt.(type) {
	case *events.Message:
		p.emit(normalizeMessage(v))

	case *events.Connected:
		phone := ""
		if client.Store.ID != nil {
			phone = client.Store.ID.User
		}
		p.log.Info("whatsmeow: instância conectada", zap.String("phone", phone))
		p.emit(session.Event{
			Type:        session.EventReady,
			PhoneNumber: phone,
			Data:        map[string]any{"phoneNumber": phone, "pushName": client.Store.PushName},
		})
		go func() {
			if err := client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
				p.log.Debug("whatsmeow: presence inicial não enviado", zap.Error(err))
			}
		}()

	case *events.PairSuccess:
		p.log.Info("whatsmeow: pareado", zap.String("jid", v.ID.String()))

	case *events.LoggedOut:
		p.log.Warn("whatsmeow: instância deslogada", zap.String("reason", v.Reason.String()))
		_ = purgeFiles(p.dbPath)
		p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "logged_out", "detail": v.Reason.String()}})

	case *events.Disconnected:
		p.log.Warn("whatsmeow: conexão perdida")
		p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "connection_lost"}})

	case *events.StreamReplaced:
		p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "stream_replaced"}})

	case *events.ConnectFailure:
		p.log.Error("whatsmeow: falha ao conectar", zap.String("reason", v.Reason.String()), zap.String("message", v.Message))
		p.emit(session.Event{Type: session.EventError, Data: map[string]any{"error": v.Message, "reason": v.Reason.String()}})
		p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "connect_failure"}})

	case *events.TemporaryBan:
		p.log.Error("whatsmeow: instância temporariamente banida", zap.String("code", v.Code.String()), zap.Duration("expire", v.Expire))
		p.emit(session.Event{Type: session.EventError, Data: map[string]any{"error": "temporary_ban", "code": v.Code.String(), "expireSeconds": int64(v.Expire.Seconds())}})
		p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "temporary_ban"}})

	case *events.ClientOutdated:
		p.emit(session.Event{Type: session.EventError, Data: map[string]any{"error": "client_outdated"}})
		p.emit(session.Event{Type: session.EventDisconnected, Data: map[string]any{"reason": "client_outdated"}})

	case *events.PairError:
		p.emit(session.Event{Type: session.EventError, Data: map[string]any{"error": v.Error.Error(), "reason": "pair_error"}})

	case *events.StreamError:
		p.emit(session.Event{Type: session.EventError, Data: map[string]any{"error": "stream_error", "code": v.Code}})

	default:
		p.log.Debug("whatsmeow: evento ignorado", zap.String("event_type", fmt.Sprintf("%T", evt)))
	}
}
