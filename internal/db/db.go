package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"climatelog/internal/config"
	"climatelog/internal/metrics"
)

// Open returns a sqlite handle traced through NewTracingConnector. m may be nil.
func Open(cfg config.Config, logger *slog.Logger, m *metrics.Registry) (*sql.DB, error) {
	if cfg.SQLiteDriver != "" && cfg.SQLiteDriver != "sqlite3" {
		return nil, fmt.Errorf("db open: unsupported driver %q", cfg.SQLiteDriver)
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	opts := TraceOptions{
		LogStatements: cfg.SQLiteLogStatements,
		SlowThreshold: cfg.SQLiteSlowStatement,
	}
	if m != nil {
		opts.Observe = func(op string, elapsed time.Duration, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.SQLStatements.WithLabelValues(op, result).Observe(elapsed.Seconds())
		}
	}
	db := sql.OpenDB(NewTracingConnector(dsn, logger, opts))

	// One writer keeps the raw insert and its eviction from racing another insert.
	if cfg.SQLiteMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.SQLiteMaxOpenConns)
	}
	if cfg.SQLiteMaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.SQLiteMaxIdleConns)
	}
	if cfg.SQLiteConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.SQLiteConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// buildDSN creates the parent directory of a file-backed database.
func buildDSN(cfg config.Config) (string, error) {
	if cfg.SQLiteDSN != "" {
		return cfg.SQLiteDSN, nil
	}

	path := cfg.SQLitePath
	if dir := filepath.Dir(strings.TrimPrefix(path, "file:")); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// - busy_timeout: the ingest listener, rollup ticks and HTTP reads share the file
	// - journal_mode=WAL: readers do not block the raw-tier insert/evict transaction
	params := "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

	switch {
	case !strings.HasPrefix(path, "file:"):
		return "file:" + path + "?" + params, nil
	case strings.Contains(path, "?"):
		return path + "&" + params, nil
	default:
		return path + "?" + params, nil
	}
}
