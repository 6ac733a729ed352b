package storage

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/config"
	"github.com/open-apime/apime-gateway/internal/pkg/queue"
	queue_memory "github.com/open-apime/apime-gateway/internal/pkg/queue/memory"
	queue_redis "github.com/open-apime/apime-gateway/internal/pkg/queue/redis"
	"github.com/open-apime/apime-gateway/internal/pkg/ratelimiter"
	limiter_memory "github.com/open-apime/apime-gateway/internal/pkg/ratelimiter/memory"
	limiter_redis "github.com/open-apime/apime-gateway/internal/pkg/ratelimiter/redis"
	"github.com/open-apime/apime-gateway/internal/storage/memory"
	"github.com/open-apime/apime-gateway/internal/storage/postgres"
	storage_redis "github.com/open-apime/apime-gateway/internal/storage/redis"
	"github.com/open-apime/apime-gateway/internal/storage/sqlite"
)

type Repositories struct {
	Instance     InstanceRepository
	RedisClient  *storage_redis.Client // nil se Redis estiver desabilitado
	WebhookQueue queue.Queue
	RateLimiter  ratelimiter.Limiter

	closers []io.Closer
}

func NewRepositories(ctx context.Context, cfg config.Config, log *zap.Logger) (*Repositories, error) {
	log.Info("inicializando repositórios",
		zap.String("driver", cfg.Storage.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	repos := &Repositories{}

	if cfg.Redis.Enabled {
		client, err := storage_redis.New(ctx, cfg.Redis, log)
		if err != nil {
			log.Error("erro ao conectar com Redis", zap.Error(err))
			return nil, err
		}
		repos.RedisClient = client
		repos.WebhookQueue = queue_redis.NewQueue(client.RDB(), "apime:webhook")
		repos.RateLimiter = limiter_redis.NewLimiter(client.RDB())
		repos.closers = append(repos.closers, repos.WebhookQueue, client)
		log.Info("Redis conectado, fila e limiter configurados")
	} else {
		log.Info("usando fila e limiter em memória (Redis desabilitado)")
		mq := queue_memory.NewQueue(10000)
		ml := limiter_memory.NewLimiter()
		repos.WebhookQueue = mq
		repos.RateLimiter = ml
		repos.closers = append(repos.closers, mq, ml)
	}

	switch cfg.Storage.Driver {
	case "memory", "":
		repos.Instance = memory.NewInstanceRepository()

	case "sqlite":
		db, err := sqlite.New(ctx, cfg.Storage.DataDir, log)
		if err != nil {
			log.Error("erro ao conectar com SQLite", zap.Error(err))
			repos.Close()
			return nil, err
		}
		repos.Instance = sqlite.NewInstanceRepository(db)
		repos.closers = append(repos.closers, db)

	case "postgres":
		db, err := postgres.New(ctx, cfg.DB, log)
		if err != nil {
			log.Error("erro ao conectar com PostgreSQL", zap.Error(err))
			repos.Close()
			return nil, err
		}
		repos.Instance = postgres.NewInstanceRepository(db)
		repos.closers = append(repos.closers, db)

	default:
		repos.Close()
		return nil, &ErrUnknownDriver{Driver: cfg.Storage.Driver}
	}

	log.Info("repositórios criados com sucesso", zap.String("driver", cfg.Storage.Driver))
	return repos, nil
}

// Close fecha fila, limiter e conexões na ordem inversa de abertura.
func (r *Repositories) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

type ErrUnknownDriver struct {
	Driver string
}

func (e *ErrUnknownDriver) Error() string {
	return "storage: driver desconhecido: " + e.Driver
}
