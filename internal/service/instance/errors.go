package instance

import (
	"errors"
	"regexp"

	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/session"
	"github.com/open-apime/apime-gateway/internal/storage"
	"github.com/open-apime/apime-gateway/internal/webhook"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func errNotFound(id string) error {
	return apperror.NotFound("instância não encontrada: " + id)
}

func errNotConnected() error {
	return apperror.ServiceUnavailable("instância não conectada", nil)
}

// mapProviderError classifica falhas do provider: não conectado vira 503,
// destinatário inválido 400 e o resto 500.
func mapProviderError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrReleased):
		return apperror.ServiceUnavailable("instância não conectada", err)
	case errors.Is(err, session.ErrInvalidRecipient):
		return apperror.InvalidRequest("destinatário inválido", map[string]string{"to": "invalid"})
	default:
		return apperror.Internal(err)
	}
}

func mapStorageError(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAlreadyExists):
		return apperror.Conflict("instância já existe: " + id)
	case errors.Is(err, storage.ErrNotFound):
		return errNotFound(id)
	default:
		return apperror.Internal(err)
	}
}

func mapWebhookError(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrUnknownInstance):
		return errNotFound(id)
	case errors.Is(err, webhook.ErrNoWebhook):
		return apperror.BadRequest("instância sem webhookUrl configurado")
	case errors.Is(err, webhook.ErrUnknownEvent):
		return apperror.BadRequest("tipo de evento não reconhecido")
	default:
		return apperror.Internal(err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
