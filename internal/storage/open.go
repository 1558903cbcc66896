package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql sentlog.sql
var migrationsFS embed.FS

// Config configures the embedded database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(cfg Config) (*sql.DB, error) {
	return open(cfg, "migrations.sql")
}

// OpenSentLog opens (or creates) the delivery history database. It is a
// separate file from the main database: sent-log reads run inside dispatcher
// transactions, which hold the event database's only connection, so the two
// must never share a pool.
func OpenSentLog(cfg Config) (*sql.DB, error) {
	return open(cfg, "sentlog.sql")
}

// SentLogPath derives the delivery history file from the main database path.
func SentLogPath(dbPath string) string {
	ext := filepath.Ext(dbPath)
	return strings.TrimSuffix(dbPath, ext) + "-sent" + ext
}

func open(cfg Config, schema string) (*sql.DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := migrate(context.Background(), db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a fresh in-memory database with every schema applied.
// Intended for tests.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, schema := range []string{"migrations.sql", "sentlog.sql"} {
		if err := migrate(context.Background(), db, schema); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate applies the main schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, "migrations.sql")
}

func migrate(ctx context.Context, db *sql.DB, schema string) error {
	b, err := migrationsFS.ReadFile(schema)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(b))
	return err
}
