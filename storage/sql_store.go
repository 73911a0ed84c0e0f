package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"property-valuation/models"
)

// SQLStore persists tasks in a relational database through database/sql.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"
)

const taskColumns = `id, filename, status, total, processed, succeeded, failed,
	result_ref, error, weights, created_at, updated_at, started_at, finished_at`

func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// CreateTask inserts task, replacing any earlier record with the same id.
func (s *SQLStore) CreateTask(ctx context.Context, task *models.Task) error {
	weights, err := encodeWeights(task.Weights)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO valuation_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			total = excluded.total,
			processed = excluded.processed,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			result_ref = excluded.result_ref,
			error = excluded.error,
			weights = excluded.weights,
			updated_at = excluded.updated_at
	`,
		task.ID, task.Filename, string(task.Status), task.Total, task.Processed,
		task.Succeeded, task.Failed, task.ResultRef, task.Error, weights,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(), nullTime(task.StartedAt), nullTime(task.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("%s: create task: %w", s.dialect, err)
	}
	return nil
}

func (s *SQLStore) UpdateProgress(ctx context.Context, p models.Progress, at time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE valuation_tasks
		SET total = ?, processed = ?, succeeded = ?, failed = ?, updated_at = ?
		WHERE id = ?
	`, p.Total, p.Processed, p.Succeeded, p.Failed, at.UTC(), p.ID)
	if err != nil {
		return fmt.Errorf("%s: update progress: %w", s.dialect, err)
	}
	return expectRow(res, p.ID)
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, errMsg string, at time.Time) error {
	query := `UPDATE valuation_tasks SET status = ?, error = ?, updated_at = ?`
	args := []interface{}{string(status), errMsg, at.UTC()}
	switch {
	case status == models.TaskProcessing:
		query += `, started_at = ?`
		args = append(args, at.UTC())
	case status.Terminal():
		query += `, finished_at = ?`
		args = append(args, at.UTC())
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: update status: %w", s.dialect, err)
	}
	return expectRow(res, id)
}

func (s *SQLStore) SaveResult(ctx context.Context, id, ref string, result []byte, at time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE valuation_tasks SET result_ref = ?, result = ?, updated_at = ? WHERE id = ?
	`, ref, result, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("%s: save result: %w", s.dialect, err)
	}
	return expectRow(res, id)
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM valuation_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get task: %w", s.dialect, err)
	}
	return task, nil
}

func (s *SQLStore) GetResult(ctx context.Context, id string) ([]byte, error) {
	var result []byte
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT result FROM valuation_tasks WHERE id = ?`), id).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(result) == 0) {
		return nil, fmt.Errorf("%w: no result for %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get result: %w", s.dialect, err)
	}
	return result, nil
}

// ListTasks returns every task, oldest first.
func (s *SQLStore) ListTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM valuation_tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%s: list tasks: %w", s.dialect, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", s.dialect, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                     models.Task
		status, weights       string
		startedAt, finishedAt sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.Filename, &status, &t.Total, &t.Processed, &t.Succeeded, &t.Failed,
		&t.ResultRef, &t.Error, &weights, &t.CreatedAt, &t.UpdatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if weights != "" {
		if err := json.Unmarshal([]byte(weights), &t.Weights); err != nil {
			return nil, fmt.Errorf("decode weights: %w", err)
		}
	}
	if startedAt.Valid {
		ts := startedAt.Time
		t.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts := finishedAt.Time
		t.FinishedAt = &ts
	}
	return &t, nil
}

func encodeWeights(w models.Weights) (string, error) {
	if len(w) == 0 {
		return "", nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode weights: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
