package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/app"
	"github.com/open-apime/apime-gateway/internal/config"
	"github.com/open-apime/apime-gateway/internal/logger"
)

func main() {
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	logr.Info("iniciando aplicação",
		zap.String("version", config.Version),
		zap.String("env", cfg.App.Env),
		zap.String("log_level", cfg.Log.Level),
		zap.String("port", cfg.App.Port),
		zap.String("db_driver", cfg.Storage.Driver),
		zap.String("provider", cfg.Provider.Driver),
	)
	for _, w := range cfg.Warnings() {
		logr.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.Build(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("falha ao montar dependências", zap.Error(err))
	}

	logr.Info("restaurando instâncias...")
	if err := container.Start(ctx); err != nil {
		logr.Warn("erro ao restaurar instâncias", zap.Error(err))
	}

	application := app.New(cfg, logr, container.Router)

	errCh := make(chan error, 1)
	go func() {
		if err := application.Run(context.Background()); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("sinal de encerramento recebido",
			zap.String("signal", "SIGINT/SIGTERM"),
		)
	case err := <-errCh:
		logr.Error("servidor finalizado com erro", zap.Error(err))
	}

	logr.Info("iniciando shutdown graceful")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logr.Error("erro ao encerrar servidor", zap.Error(err))
	} else {
		logr.Info("servidor encerrado com sucesso")
	}

	if err := container.Close(shutdownCtx); err != nil {
		logr.Warn("erro ao liberar recursos", zap.Error(err))
	}
}
