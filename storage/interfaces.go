package storage

import (
	"context"
	"errors"
	"time"

	"property-valuation/models"
)

// ErrNotFound is returned when a task id has no stored record.
var ErrNotFound = errors.New("task not found")

// TaskStore is the interface any task persistence backend must satisfy.
// Every write is keyed by task id.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	// UpdateProgress checkpoints the row counters of a task.
	UpdateProgress(ctx context.Context, p models.Progress, at time.Time) error
	// UpdateStatus moves a task to status. Entering processing stamps
	// started_at; entering a terminal status stamps finished_at.
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, errMsg string, at time.Time) error
	// SaveResult stores the serialized result document and its reference.
	SaveResult(ctx context.Context, id, ref string, result []byte, at time.Time) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetResult(ctx context.Context, id string) ([]byte, error)
	ListTasks(ctx context.Context) ([]*models.Task, error)
	Close() error
}

// ArtifactStore persists rendered result files and returns a reference
// that can be handed back to the submitter.
type ArtifactStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}
