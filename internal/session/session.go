// Package session define o contrato com o motor de sessão de mensageria.
package session

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected indica operação que exige sessão autenticada.
	ErrNotConnected = errors.New("session: instância não conectada")
	ErrReleased     = errors.New("session: provider liberado")
	// ErrInvalidRecipient indica destinatário que não pode ser convertido em JID.
	ErrInvalidRecipient = errors.New("session: destinatário inválido")
)

// Tipos de evento emitidos pelo provider. Os valores coincidem com as tags de webhook.
const (
	EventQR              = "qr"
	EventReady           = "ready"
	EventDisconnected    = "disconnected"
	EventMessage         = "message"
	EventMessageEdit     = "message_edit"
	EventMessageDelete   = "message_delete"
	EventMessageReaction = "message_reaction"
	EventError           = "error"
)

// Event é a forma normalizada de qualquer evento do provider.
type Event struct {
	Type string
	Data map[string]any
	// PhoneNumber só é preenchido em EventReady.
	PhoneNumber string
}

type Handler func(Event)

// NumberStatus é o resultado da verificação de um número.
type NumberStatus struct {
	Phone  string `json:"phone"`
	Exists bool   `json:"exists"`
	JID    string `json:"jid,omitempty"`
}

// Provider controla a sessão de uma única instância. Connect retorna assim que a
// conexão foi iniciada; o resultado chega por eventos (qr, ready, disconnected).
type Provider interface {
	OnEvent(handler Handler)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// Logout encerra a sessão e invalida as credenciais persistidas.
	Logout(ctx context.Context) error
	// Release libera todos os recursos; o provider não pode ser reutilizado.
	Release(ctx context.Context) error

	SendText(ctx context.Context, to, text string) (string, error)
	SendPresence(ctx context.Context, available bool) error
	CheckNumbers(ctx context.Context, phones []string) ([]NumberStatus, error)
}

// Factory cria um provider por instância.
type Factory interface {
	New(instanceID string) (Provider, error)
	// HasSession informa se existe sessão persistida que permita reconectar sem QR.
	HasSession(instanceID string) bool
	// Purge remove qualquer sessão persistida da instância.
	Purge(instanceID string) error
}
