package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"property-valuation/models"
)

// MemoryStore keeps tasks in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*models.Task
	results map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*models.Task),
		results: make(map[string][]byte),
	}
}

func (m *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

func (m *MemoryStore) UpdateProgress(ctx context.Context, p models.Progress, at time.Time) error {
	return m.update(p.ID, func(t *models.Task) {
		t.Total = p.Total
		t.Processed = p.Processed
		t.Succeeded = p.Succeeded
		t.Failed = p.Failed
		t.UpdatedAt = at
	})
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, errMsg string, at time.Time) error {
	return m.update(id, func(t *models.Task) {
		t.Status = status
		t.Error = errMsg
		t.UpdatedAt = at
		ts := at
		switch {
		case status == models.TaskProcessing:
			t.StartedAt = &ts
		case status.Terminal():
			t.FinishedAt = &ts
		}
	})
}

func (m *MemoryStore) SaveResult(ctx context.Context, id, ref string, result []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.ResultRef = ref
	t.UpdatedAt = at
	m.results[id] = append([]byte(nil), result...)
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) GetResult(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: no result for %s", ErrNotFound, id)
	}
	return append([]byte(nil), r...), nil
}

// ListTasks returns every task, oldest first.
func (m *MemoryStore) ListTasks(ctx context.Context) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) update(id string, fn func(t *models.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(t)
	return nil
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	if t.Weights != nil {
		c.Weights = make(models.Weights, len(t.Weights))
		for k, v := range t.Weights {
			c.Weights[k] = v
		}
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	return &c
}
