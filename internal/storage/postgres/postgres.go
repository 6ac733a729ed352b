package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/config"
	"github.com/open-apime/apime-gateway/internal/storage/migrate"
)

type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// New conecta via pgxpool e aplica as migrations pendentes.
func New(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: falha ao conectar: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: falha ao ping: %w", err)
	}

	if applied, err := migrate.Postgres(ctx, pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrations: %w", err)
	} else if len(applied) > 0 {
		log.Info("postgres: migrations aplicadas", zap.Strings("versions", applied))
	}

	log.Info("postgres: conectado com sucesso",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.String("user", cfg.User),
	)

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) Close() error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	return nil
}
