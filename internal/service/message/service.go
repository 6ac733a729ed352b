// Package message expõe as operações que exigem instância conectada.
package message

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/session"
)

const (
	maxTextLength   = 4096
	maxCheckNumbers = 50
)

// Gateway é implementado pelo serviço de instâncias.
type Gateway interface {
	SendText(ctx context.Context, id, to, text string) (string, error)
	SendPresence(ctx context.Context, id string, available bool) error
	CheckNumbers(ctx context.Context, id string, phones []string) ([]session.NumberStatus, error)
}

type Service struct {
	instances Gateway
	log       *zap.Logger
}

func NewService(instances Gateway, log *zap.Logger) *Service {
	return &Service{instances: instances, log: log}
}

type SendTextInput struct {
	InstanceID string
	To         string
	Text       string
}

type SendTextResult struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

func (s *Service) SendText(ctx context.Context, input SendTextInput) (SendTextResult, error) {
	to := strings.TrimSpace(input.To)
	if !validRecipient(to) {
		return SendTextResult{}, apperror.InvalidRequest("destinatário inválido", map[string]string{"to": "informe o número com DDI ou um JID"})
	}
	if strings.TrimSpace(input.Text) == "" || len(input.Text) > maxTextLength {
		return SendTextResult{}, apperror.InvalidRequest("texto inválido", map[string]string{"text": "obrigatório, até 4096 caracteres"})
	}

	id, err := s.instances.SendText(ctx, input.InstanceID, to, input.Text)
	if err != nil {
		return SendTextResult{}, err
	}
	s.log.Info("mensagem enviada", logger.InstanceID(input.InstanceID), zap.String("message_id", id))
	return SendTextResult{MessageID: id, To: to}, nil
}

func (s *Service) SetPresence(ctx context.Context, instanceID, presence string) error {
	var available bool
	switch strings.ToLower(strings.TrimSpace(presence)) {
	case "available", "online":
		available = true
	case "unavailable", "offline":
		available = false
	default:
		return apperror.InvalidRequest("presence inválido", map[string]string{"presence": "use available ou unavailable"})
	}
	return s.instances.SendPresence(ctx, instanceID, available)
}

func (s *Service) CheckNumbers(ctx context.Context, instanceID string, phones []string) ([]session.NumberStatus, error) {
	if len(phones) == 0 || len(phones) > maxCheckNumbers {
		return nil, apperror.InvalidRequest("lista de números inválida", map[string]string{"phones": "entre 1 e 50 números"})
	}
	cleaned := make([]string, 0, len(phones))
	for _, p := range phones {
		p = strings.TrimSpace(p)
		if !validPhone(p) {
			return nil, apperror.InvalidRequest("número inválido: "+p, map[string]string{"phones": "apenas dígitos, 8 a 15"})
		}
		cleaned = append(cleaned, strings.TrimPrefix(p, "+"))
	}
	return s.instances.CheckNumbers(ctx, instanceID, cleaned)
}

func validRecipient(to string) bool {
	if strings.Contains(to, "@") {
		user, server, _ := strings.Cut(to, "@")
		return user != "" && server != ""
	}
	return validPhone(to)
}

func validPhone(phone string) bool {
	phone = strings.TrimPrefix(phone, "+")
	if len(phone) < 8 || len(phone) > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
