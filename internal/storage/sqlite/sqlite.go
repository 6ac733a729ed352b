package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/storage/migrate"
)

type DB struct {
	Conn *sql.DB
	log  *zap.Logger
}

// New abre (ou cria) DATA_DIR/apime.db e aplica as migrations pendentes.
func New(ctx context.Context, dataDir string, log *zap.Logger) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: criar diretório: %w", err)
	}
	return Open(ctx, filepath.Join(dataDir, "apime.db"), log)
}

// Open abre o arquivo indicado; ":memory:" é aceito para testes.
func Open(ctx context.Context, dbPath string, log *zap.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: falha ao abrir: %w", err)
	}

	// SQLite não suporta múltiplas escritas simultâneas
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: falha ao ping: %w", err)
	}

	if applied, err := migrate.SQLite(ctx, conn, log); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: migrations: %w", err)
	} else if len(applied) > 0 {
		log.Info("sqlite: migrations aplicadas", zap.Strings("versions", applied))
	}

	log.Info("sqlite: conectado com sucesso", zap.String("path", dbPath))

	return &DB{Conn: conn, log: log}, nil
}

func (db *DB) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}
