// Package migrate applies the embedded schema for the raw, hourly and daily
// tiers. Files are named NNNN_name.sql and run in version order; each file and
// its schema_migrations row commit together.
package migrate

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const migrationsDir = "sql"

// Migration is one schema file and, once applied, when it ran.
type Migration struct {
	Version   int
	Name      string
	AppliedAt time.Time // zero while pending

	body string
}

// Run applies every pending migration and logs each one.
func Run(ctx context.Context, db *sql.DB) error {
	applied, err := apply(ctx, db, sqlFS)
	for _, m := range applied {
		slog.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return err
}

// Status lists every embedded migration with its applied time, if any.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	return status(ctx, db, sqlFS)
}

func status(ctx context.Context, db *sql.DB, fsys fs.FS) ([]Migration, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	all, err := load(fsys)
	if err != nil {
		return nil, err
	}
	done, err := appliedAt(ctx, db)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].AppliedAt = done[all[i].Version]
	}
	return all, nil
}

// apply returns the migrations it committed, including those before a failure.
func apply(ctx context.Context, db *sql.DB, fsys fs.FS) ([]Migration, error) {
	all, err := status(ctx, db, fsys)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range all {
		if !m.AppliedAt.IsZero() {
			continue
		}
		m.AppliedAt = time.Now().UTC()
		if err := applyOne(ctx, db, m); err != nil {
			return applied, fmt.Errorf("apply %04d_%s.sql: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m)
	}
	return applied, nil
}

func load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		version, name, ok := parseFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(migrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, body: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// parseFilename accepts exactly four version digits, e.g. 0001_climate_tiers.sql.
func parseFilename(filename string) (version int, name string, ok bool) {
	stem, found := strings.CutSuffix(filename, ".sql")
	if !found {
		return 0, "", false
	}
	digits, name, found := strings.Cut(stem, "_")
	if !found || len(digits) != 4 || name == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(digits)
	if err != nil || version < 0 {
		return 0, "", false
	}
	return version, name, true
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version       INTEGER PRIMARY KEY,
			name          TEXT    NOT NULL,
			applied_at_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	return nil
}

func appliedAt(ctx context.Context, db *sql.DB) (map[int]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at_ms FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			v  int
			ms int64
		)
		if err := rows.Scan(&v, &ms); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[v] = time.UnixMilli(ms).UTC()
	}
	return out, rows.Err()
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at_ms) VALUES (?, ?, ?)`,
		m.Version, m.Name, m.AppliedAt.UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
