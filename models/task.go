package models

import (
	"math"
	"time"
)

// TaskStatus is the lifecycle state of a batch task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is the persisted view of one batch submission.
type Task struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	Status     TaskStatus `json:"status"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	ResultRef  string     `json:"result_ref,omitempty"`
	Error      string     `json:"error,omitempty"`
	Weights    Weights    `json:"weights,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Progress returns the progress view of the task.
func (t Task) Progress() Progress {
	p := Progress{
		ID:        t.ID,
		Status:    t.Status,
		Total:     t.Total,
		Processed: t.Processed,
		Succeeded: t.Succeeded,
		Failed:    t.Failed,
	}
	if t.Total > 0 {
		p.Percent = int(math.Round(float64(t.Processed) / float64(t.Total) * 100))
	}
	return p
}

// Progress is the externally visible progress of a task.
type Progress struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Percent   int        `json:"progress_percent"`
}

// RowStatus is the outcome of a single row of a batch.
type RowStatus string

const (
	RowSuccess RowStatus = "success"
	RowFailed  RowStatus = "failed"
)

// RowOutcome records what happened to one input row.
type RowOutcome struct {
	Index     int        `json:"index"`
	Row       RawRecord  `json:"row"`
	Status    RowStatus  `json:"status"`
	Error     string     `json:"error,omitempty"`
	Valuation *Valuation `json:"valuation,omitempty"`
}
