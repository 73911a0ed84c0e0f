package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"property-valuation/utils"
)

// NewPostgresStore opens a connection to PostgreSQL, waits for it to accept
// connections, runs schema migrations and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string, logger *utils.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialectPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	ping := utils.RetryConfig{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, Logger: logger}
	if err := ping.Do(ctx, "postgres ping", db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.migratePostgres(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migratePostgres(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS valuation_tasks (
			id          TEXT         PRIMARY KEY,
			filename    TEXT         NOT NULL DEFAULT '',
			status      VARCHAR(20)  NOT NULL,
			total       INTEGER      NOT NULL DEFAULT 0,
			processed   INTEGER      NOT NULL DEFAULT 0,
			succeeded   INTEGER      NOT NULL DEFAULT 0,
			failed      INTEGER      NOT NULL DEFAULT 0,
			result_ref  TEXT         NOT NULL DEFAULT '',
			error       TEXT         NOT NULL DEFAULT '',
			weights     TEXT         NOT NULL DEFAULT '',
			result      BYTEA,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			started_at  TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_valuation_tasks_status  ON valuation_tasks(status);
		CREATE INDEX IF NOT EXISTS idx_valuation_tasks_created ON valuation_tasks(created_at);
	`)
	return err
}
