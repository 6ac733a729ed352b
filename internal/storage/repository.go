package storage

import (
	"context"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

var (
	ErrNotFound      = model.ErrNotFound
	ErrAlreadyExists = model.ErrAlreadyExists
)

// InstanceRepository persiste a configuração das instâncias (id, webhook, createdAt).
// Estado de conexão não é persistido: toda instância restaurada volta como disconnected.
type InstanceRepository interface {
	Create(ctx context.Context, instance model.Instance) (model.Instance, error)
	GetByID(ctx context.Context, id string) (model.Instance, error)
	List(ctx context.Context) ([]model.Instance, error)
	Update(ctx context.Context, instance model.Instance) (model.Instance, error)
	Delete(ctx context.Context, id string) error
}
