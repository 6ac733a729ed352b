package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/api/handler"
	"github.com/open-apime/apime-gateway/internal/api/middleware"
	"github.com/open-apime/apime-gateway/internal/config"
	"github.com/open-apime/apime-gateway/internal/metrics"
	"github.com/open-apime/apime-gateway/internal/server"
	"github.com/open-apime/apime-gateway/internal/service/instance"
	"github.com/open-apime/apime-gateway/internal/service/message"
	"github.com/open-apime/apime-gateway/internal/session"
	"github.com/open-apime/apime-gateway/internal/session/stub"
	"github.com/open-apime/apime-gateway/internal/session/whatsmeow"
	"github.com/open-apime/apime-gateway/internal/storage"
	"github.com/open-apime/apime-gateway/internal/webhook"
	"github.com/open-apime/apime-gateway/internal/webhook/delivery"
)

// Container reúne os componentes ligados a partir da configuração.
type Container struct {
	Repos      *storage.Repositories
	Sessions   session.Factory
	Dispatcher *webhook.Dispatcher
	Instances  *instance.Service
	Messages   *message.Service
	Router     *gin.Engine

	log *zap.Logger
}

type buildOptions struct {
	sessions session.Factory
}

type Option func(*buildOptions)

// WithSessionFactory substitui o provider escolhido por PROVIDER.
func WithSessionFactory(f session.Factory) Option {
	return func(o *buildOptions) { o.sessions = f }
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...Option) (*Container, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	repos, err := storage.NewRepositories(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	sessions := bo.sessions
	if sessions == nil {
		sessions, err = newSessionFactory(cfg, log)
		if err != nil {
			repos.Close()
			return nil, err
		}
	}

	attempts := delivery.NewDelivery(cfg.Webhook.Secret, cfg.Webhook.Timeout(), log)
	dispatcher := webhook.NewDispatcher(repos.WebhookQueue, attempts, webhook.NewStats(), webhook.Options{
		MaxRetries:    cfg.Webhook.MaxRetries,
		RetryDelay:    cfg.Webhook.RetryDelay(),
		BackoffFactor: cfg.Webhook.BackoffFactor,
	}, log)

	instances := instance.NewService(repos.Instance, sessions, dispatcher, instance.Options{
		ConnectTimeout: cfg.Provider.ConnectTimeout(),
		AutoRestore:    cfg.Provider.AutoRestore,
	}, log)
	messages := message.NewService(instances, log)

	checks := map[string]handler.Pinger{}
	if repos.RedisClient != nil {
		checks["redis"] = repos.RedisClient
	}

	router := server.NewRouter(server.Options{
		Env:             cfg.App.Env,
		APIKey:          cfg.Auth.APIKey,
		CORSOrigin:      cfg.CORS.Origin,
		MetricsEnabled:  cfg.Metrics.Enabled,
		Logger:          log,
		InstanceHandler: handler.NewInstanceHandler(instances, log),
		WebhookHandler:  handler.NewWebhookHandler(instances, log),
		MessageHandler:  handler.NewMessageHandler(messages, log),
		HealthHandler:   handler.NewHealthHandler(checks),
		RateLimit: middleware.RateLimitOption{
			Enabled:  cfg.RateLimit.Enabled,
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window(),
			Prefix:   cfg.RateLimit.Prefix,
			Limiter:  repos.RateLimiter,
			Logger:   log,
		},
		IPRateLimit: middleware.IPRateLimitOption{
			Enabled:        cfg.RateLimit.Enabled,
			Requests:       cfg.RateLimit.IPRequests,
			Window:         cfg.RateLimit.Window(),
			Limiter:        repos.RateLimiter,
			Logger:         log,
			SkipPrivateIPs: true,
		},
	})

	return &Container{
		Repos:      repos,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Instances:  instances,
		Messages:   messages,
		Router:     router,
		log:        log,
	}, nil
}

func newSessionFactory(cfg config.Config, log *zap.Logger) (session.Factory, error) {
	switch cfg.Provider.Driver {
	case "stub":
		log.Warn("PROVIDER=stub: sessões simuladas, nenhuma mensagem real será enviada")
		f := stub.NewFactory()
		f.AutoReady = true
		return f, nil
	default:
		f, err := whatsmeow.NewFactory(cfg.Storage.SessionDir, log)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		return f, nil
	}
}

// Start restaura as instâncias persistidas.
func (c *Container) Start(ctx context.Context) error {
	return c.Instances.Restore(ctx)
}

// Close desconecta os providers, encerra os workers de entrega e fecha o storage.
func (c *Container) Close(ctx context.Context) error {
	c.Instances.Shutdown(ctx)
	c.Dispatcher.Stop()
	c.log.Info("webhook dispatcher encerrado")
	return c.Repos.Close()
}
