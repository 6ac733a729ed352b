// Package app monta as dependências e controla o ciclo de vida do servidor HTTP.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/config"
)

type App struct {
	cfg    config.Config
	log    *zap.Logger
	server *http.Server
}

func New(cfg config.Config, log *zap.Logger, handler http.Handler) *App {
	return &App{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:              cfg.App.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run bloqueia até o servidor ser encerrado. Shutdown não é tratado como erro.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("servidor HTTP escutando", zap.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
