package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/quorum/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL allows the web handlers to read while a run is being recorded;
	// the busy timeout makes writers wait instead of failing with
	// SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id           TEXT PRIMARY KEY,
			mode         TEXT NOT NULL,
			query        TEXT NOT NULL,
			status       TEXT DEFAULT 'running',
			answer       TEXT,
			error        TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_queries (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			query       TEXT NOT NULL,
			mode        TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			status      TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queries_next_run ON scheduled_queries(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
