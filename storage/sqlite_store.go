package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens (or creates) the SQLite database at path and runs
// schema migrations. Intermediate directories are created automatically.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open(dialectSQLite, path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; workers checkpoint concurrently.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.migrateSQLite(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrateSQLite(ctx context.Context) error {
	taskTable := `
	CREATE TABLE IF NOT EXISTS valuation_tasks (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		result_ref TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		weights TEXT NOT NULL DEFAULT '',
		result BLOB,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);
	`
	statusIndex := `CREATE INDEX IF NOT EXISTS idx_valuation_tasks_status ON valuation_tasks(status);`

	if _, err := s.db.ExecContext(ctx, taskTable); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, statusIndex); err != nil {
		return err
	}
	return nil
}
