package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/config"
	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/storage/postgres"
	"github.com/open-apime/apime-gateway/internal/storage/sqlite"
)

// Aplica as migrations do driver configurado em DB_DRIVER e encerra.
func main() {
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cfg.Storage.Driver {
	case "sqlite":
		logr.Info("migrate: usando SQLite", zap.String("data_dir", cfg.Storage.DataDir))
		db, err := sqlite.New(ctx, cfg.Storage.DataDir, logr)
		if err != nil {
			logr.Fatal("migrate: falha", zap.Error(err))
		}
		defer db.Close()
	case "postgres":
		logr.Info("migrate: usando PostgreSQL")
		db, err := postgres.New(ctx, cfg.DB, logr)
		if err != nil {
			logr.Fatal("migrate: falha", zap.Error(err))
		}
		defer db.Close()
	default:
		logr.Info("migrate: nada a fazer", zap.String("driver", cfg.Storage.Driver))
		return
	}

	logr.Info("migrate: concluído com sucesso")
}
