// Package migrate aplica as migrations SQL embutidas no binário.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrations embed.FS

// SQLite aplica as migrations pendentes em db e retorna as versões aplicadas.
func SQLite(ctx context.Context, db *sql.DB, log *zap.Logger) ([]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return nil, fmt.Errorf("preparar schema_migrations: %w", err)
	}

	files, err := listUp("sql/sqlite")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		version := path.Base(file)
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
			return applied, fmt.Errorf("verificar %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		body, err := migrations.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("ler %s: %w", version, err)
		}
		log.Info("migrate: aplicando", zap.String("version", version))
		for _, stmt := range strings.Split(string(body), ";") {
			if stmt = strings.TrimSpace(stmt); stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("executar %s: %w", version, err)
			}
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return applied, fmt.Errorf("registrar %s: %w", version, err)
		}
		applied = append(applied, version)
	}
	return applied, nil
}

// Postgres aplica as migrations pendentes via pgxpool.
func Postgres(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) ([]string, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("preparar schema_migrations: %w", err)
	}

	files, err := listUp("sql/postgres")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		version := path.Base(file)
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
			return applied, fmt.Errorf("verificar %s: %w", version, err)
		}
		if exists {
			continue
		}

		body, err := migrations.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("ler %s: %w", version, err)
		}
		log.Info("migrate: aplicando", zap.String("version", version))

		execCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		_, err = pool.Exec(execCtx, strings.TrimSpace(string(body)))
		cancel()
		if err != nil {
			return applied, fmt.Errorf("executar %s: %w", version, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return applied, fmt.Errorf("registrar %s: %w", version, err)
		}
		applied = append(applied, version)
	}
	return applied, nil
}

func listUp(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("listar migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		files = append(files, path.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
