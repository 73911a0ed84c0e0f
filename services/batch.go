package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"property-valuation/models"
	"property-valuation/storage"
	"property-valuation/utils"
)

var (
	// ErrEmptyBatch is returned when a batch carries no rows.
	ErrEmptyBatch = errors.New("batch has no rows")
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotCancellable is returned when cancelling a task that is no longer pending.
	ErrNotCancellable = errors.New("only pending tasks can be cancelled")
	// ErrNoResult is returned when a task has not produced a result artifact.
	ErrNoResult = errors.New("task has no result")
	// ErrServiceClosed is returned by submissions after Shutdown.
	ErrServiceClosed = errors.New("batch service is closed")
)

const (
	DefaultMaxConcurrentTasks = 5
	DefaultCheckpointEvery    = 50
)

// RowSource supplies the rows of one batch. Rows is called by the worker
// that picks the task up, never by the submitter.
type RowSource interface {
	Name() string
	Rows(ctx context.Context) ([]models.RawRecord, error)
}

type staticSource struct {
	name string
	rows []models.RawRecord
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Rows(ctx context.Context) ([]models.RawRecord, error) { return s.rows, nil }

// SubmitRequest is an already decoded batch.
type SubmitRequest struct {
	Filename string
	Rows     []models.RawRecord
	Weights  models.Weights
}

// BatchConfig holds the tunables of the batch service.
type BatchConfig struct {
	MaxConcurrentTasks int
	CheckpointEvery    int
	StoreRetry         utils.RetryConfig
}

// BatchDeps are the collaborators of the batch service. Emitter and
// Notifier are optional.
type BatchDeps struct {
	Store    storage.TaskStore
	Emitter  *Emitter
	Notifier Notifier
	Valuer   *Valuer
	Logger   *utils.Logger
}

// taskRun is the live, in-memory state of a submitted task.
type taskRun struct {
	mu       sync.Mutex
	task     models.Task
	source   RowSource
	weights  models.Weights
	outcomes []models.RowOutcome
	artifact *models.ResultArtifact
	done     chan struct{}
}

func (r *taskRun) snapshot() models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

// BatchService admits batches to a FIFO queue and drains it with a fixed
// number of workers. Each task runs its rows sequentially.
type BatchService struct {
	cfg      BatchConfig
	store    storage.TaskStore
	emitter  *Emitter
	notifier Notifier
	valuer   *Valuer
	logger   *utils.Logger
	now      func() time.Time

	queue    *TaskQueue
	pool     *utils.WorkerPool
	inFlight *utils.IDSet

	mu      sync.RWMutex
	runs    map[string]*taskRun
	started bool
	closed  bool
}

// NewBatchService creates a batch service. Call Start to launch the workers.
func NewBatchService(cfg BatchConfig, deps BatchDeps) *BatchService {
	if cfg.MaxConcurrentTasks < 1 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.StoreRetry.Logger == nil {
		cfg.StoreRetry.Logger = deps.Logger
	}

	s := &BatchService{
		cfg:      cfg,
		store:    deps.Store,
		emitter:  deps.Emitter,
		notifier: deps.Notifier,
		valuer:   deps.Valuer,
		logger:   deps.Logger,
		now:      time.Now,
		pool:     utils.NewWorkerPool(cfg.MaxConcurrentTasks),
		inFlight: utils.NewIDSet(),
		runs:     make(map[string]*taskRun),
	}
	s.queue = NewTaskQueue(s.claim)
	return s
}

// Start launches the workers. Calling it more than once is a no-op.
func (s *BatchService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("[batch] starting %d workers", s.pool.Size())
	s.pool.Start(ctx, s.work)
}

// Shutdown stops admission, lets the workers drain the queue and waits for
// them or for ctx.
func (s *BatchService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.queue.Close()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("[batch] all workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates and enqueues an already decoded batch and returns the
// new task id without waiting for processing.
func (s *BatchService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if len(req.Rows) == 0 {
		return "", ErrEmptyBatch
	}
	return s.enqueue(ctx, staticSource{name: req.Filename, rows: req.Rows}, len(req.Rows), req.Weights)
}

// SubmitSource enqueues a batch whose rows are decoded by the worker. The
// total is unknown until then and a decode failure fails the task.
func (s *BatchService) SubmitSource(ctx context.Context, src RowSource, weights models.Weights) (string, error) {
	if src == nil {
		return "", errors.New("row source is required")
	}
	return s.enqueue(ctx, src, 0, weights)
}

func (s *BatchService) enqueue(ctx context.Context, src RowSource, total int, override models.Weights) (string, error) {
	if s.isClosed() {
		return "", ErrServiceClosed
	}
	resolved, err := ResolveWeights(override)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	run := &taskRun{
		task: models.Task{
			ID:        uuid.NewString(),
			Filename:  src.Name(),
			Status:    models.TaskPending,
			Total:     total,
			Weights:   override,
			CreatedAt: now,
			UpdatedAt: now,
		},
		source:  src,
		weights: resolved,
		done:    make(chan struct{}),
	}
	id := run.task.ID

	task := run.task
	if err := s.cfg.StoreRetry.Do(ctx, "create task", func(ctx context.Context) error {
		return s.store.CreateTask(ctx, &task)
	}); err != nil {
		return "", fmt.Errorf("batch: %w", err)
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()

	if err := s.queue.Push(id); err != nil {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
		_ = s.store.UpdateStatus(ctx, id, models.TaskCancelled, err.Error(), s.now().UTC())
		return "", ErrServiceClosed
	}

	s.logger.Info("[batch] task %s queued: %s (%d rows, position %d)", id, task.Filename, total, s.queue.Position(id))
	return id, nil
}

// claim runs under the queue lock when a worker takes a task, so a
// concurrent Cancel sees either a queued task or a processing one.
func (s *BatchService) claim(id string) {
	run := s.lookup(id)
	if run == nil {
		return
	}
	now := s.now().UTC()
	run.mu.Lock()
	run.task.Status = models.TaskProcessing
	run.task.StartedAt = &now
	run.task.UpdatedAt = now
	run.mu.Unlock()
	s.inFlight.Add(id)
}

// Cancel cancels a pending task. Tasks already picked up by a worker, or
// finished, yield ErrNotCancellable.
func (s *BatchService) Cancel(ctx context.Context, id string) error {
	run := s.lookup(id)
	if run == nil {
		if _, err := s.storedTask(ctx, id); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	if !s.queue.Remove(id) {
		return fmt.Errorf("%w: task %s is %s", ErrNotCancellable, id, run.snapshot().Status)
	}

	now := s.now().UTC()
	run.mu.Lock()
	run.task.Status = models.TaskCancelled
	run.task.FinishedAt = &now
	run.task.UpdatedAt = now
	run.mu.Unlock()
	close(run.done)

	if err := s.cfg.StoreRetry.Do(ctx, "cancel task", func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, id, models.TaskCancelled, "", now)
	}); err != nil {
		s.logger.Error("[batch] task %s cancelled but not persisted: %v", id, err)
	}
	s.logger.Info("[batch] task %s cancelled", id)
	return nil
}

// Progress returns the live progress of a task, falling back to the store
// for archived tasks.
func (s *BatchService) Progress(ctx context.Context, id string) (models.Progress, error) {
	task, err := s.Task(ctx, id)
	if err != nil {
		return models.Progress{}, err
	}
	return task.Progress(), nil
}

// Task returns a copy of the task record.
func (s *BatchService) Task(ctx context.Context, id string) (models.Task, error) {
	if run := s.lookup(id); run != nil {
		return run.snapshot(), nil
	}
	t, err := s.storedTask(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	return *t, nil
}

// List returns every stored task with live state overlaid.
func (s *BatchService) List(ctx context.Context) ([]models.Task, error) {
	stored, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch: list: %w", err)
	}
	out := make([]models.Task, 0, len(stored))
	for _, t := range stored {
		if run := s.lookup(t.ID); run != nil {
			out = append(out, run.snapshot())
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// Wait blocks until the task reaches a terminal status or ctx is done.
func (s *BatchService) Wait(ctx context.Context, id string) (models.Task, error) {
	run := s.lookup(id)
	if run == nil {
		return s.Task(ctx, id)
	}
	select {
	case <-run.done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return run.snapshot(), ctx.Err()
	}
}

// Result returns the artifact of a completed task. The in-memory task is
// archived afterwards; later calls are served from the store.
func (s *BatchService) Result(ctx context.Context, id string) (*models.ResultArtifact, error) {
	if run := s.lookup(id); run != nil {
		run.mu.Lock()
		artifact, status := run.artifact, run.task.Status
		run.mu.Unlock()
		if artifact == nil {
			return nil, fmt.Errorf("%w: task %s is %s", ErrNoResult, id, status)
		}
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
		return artifact, nil
	}

	task, err := s.storedTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskCompleted {
		return nil, fmt.Errorf("%w: task %s is %s", ErrNoResult, id, task.Status)
	}
	doc, err := s.store.GetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResult, err)
	}
	var artifact models.ResultArtifact
	if err := json.Unmarshal(doc, &artifact); err != nil {
		return nil, fmt.Errorf("batch: decode stored result: %w", err)
	}
	return &artifact, nil
}

// InFlight returns the number of tasks currently processing.
func (s *BatchService) InFlight() int { return s.inFlight.Size() }

// MaxInFlight returns the largest number of tasks ever processing at once.
func (s *BatchService) MaxInFlight() int { return s.inFlight.HighWater() }

// QueueLen returns the number of tasks waiting for a worker.
func (s *BatchService) QueueLen() int { return s.queue.Len() }

func (s *BatchService) lookup(id string) *taskRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

func (s *BatchService) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *BatchService) storedTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return t, nil
}

func (s *BatchService) work(ctx context.Context, workerID int) {
	for {
		id, err := s.queue.Next(ctx)
		if err != nil {
			return
		}
		// A task that has started runs to completion even if ctx ends.
		s.process(context.WithoutCancel(ctx), workerID, id)
	}
}

func (s *BatchService) process(ctx context.Context, workerID int, id string) {
	run := s.lookup(id)
	if run == nil {
		s.inFlight.Remove(id)
		return
	}
	defer close(run.done)
	defer s.inFlight.Remove(id)

	task := run.snapshot()
	s.logger.Info("[batch] worker %d picked task %s (%s)", workerID, id, task.Filename)

	startedAt := s.now().UTC()
	if task.StartedAt != nil {
		startedAt = *task.StartedAt
	}
	if err := s.cfg.StoreRetry.Do(ctx, "mark processing", func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, id, models.TaskProcessing, "", startedAt)
	}); err != nil {
		s.fail(ctx, run, err)
		return
	}

	rows, err := readRows(ctx, run.source)
	if err != nil {
		s.fail(ctx, run, fmt.Errorf("read rows: %w", err))
		return
	}
	if len(rows) == 0 {
		s.fail(ctx, run, ErrEmptyBatch)
		return
	}

	run.mu.Lock()
	run.task.Total = len(rows)
	run.outcomes = make([]models.RowOutcome, 0, len(rows))
	task = run.task
	run.mu.Unlock()
	s.notify(ctx, EventTaskStarted, task)

	for i, raw := range rows {
		outcome := s.valueRow(ctx, run, i, raw)

		run.mu.Lock()
		run.outcomes = append(run.outcomes, outcome)
		run.task.Processed++
		if outcome.Status == models.RowSuccess {
			run.task.Succeeded++
		} else {
			run.task.Failed++
		}
		run.task.UpdatedAt = s.now().UTC()
		progress := run.task.Progress()
		run.mu.Unlock()

		if (i+1)%s.cfg.CheckpointEvery == 0 || i == len(rows)-1 {
			if err := s.checkpoint(ctx, progress); err != nil {
				s.fail(ctx, run, err)
				return
			}
			s.logger.Debug("[batch] task %s progress %d/%d (%d%%)", id, progress.Processed, progress.Total, progress.Percent)
		}
	}

	if err := s.complete(ctx, run); err != nil {
		s.fail(ctx, run, err)
		return
	}
}

func readRows(ctx context.Context, src RowSource) (rows []models.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("row source panicked: %v", r)
		}
	}()
	return src.Rows(ctx)
}

// valueRow runs one row through admission, cleaning and the ensemble. Any
// error or panic becomes a failed outcome.
func (s *BatchService) valueRow(ctx context.Context, run *taskRun, index int, raw models.RawRecord) (out models.RowOutcome) {
	out = models.RowOutcome{Index: index, Row: raw}
	taskID := run.task.ID
	defer func() {
		if r := recover(); r != nil {
			out.Status = models.RowFailed
			out.Error = fmt.Sprintf("valuation panicked: %v", r)
			out.Valuation = nil
		}
		if out.Status == models.RowFailed {
			s.logger.Warn("[batch] task %s row %d failed: %s", taskID, index+1, out.Error)
		}
	}()

	cleaner := s.valuer.Cleaner()
	if err := cleaner.Admit(raw); err != nil {
		out.Status, out.Error = models.RowFailed, err.Error()
		return out
	}
	val, err := s.valuer.Value(ctx, cleaner.Clean(raw), models.ModelEnsemble, run.weights)
	if err != nil {
		out.Status, out.Error = models.RowFailed, err.Error()
		return out
	}
	out.Status = models.RowSuccess
	out.Valuation = val
	return out
}

func (s *BatchService) checkpoint(ctx context.Context, p models.Progress) error {
	return s.cfg.StoreRetry.Do(ctx, "checkpoint progress", func(ctx context.Context) error {
		return s.store.UpdateProgress(ctx, p, s.now().UTC())
	})
}

func (s *BatchService) complete(ctx context.Context, run *taskRun) error {
	run.mu.Lock()
	final := run.task
	final.Status = models.TaskCompleted
	artifact := BuildArtifact(final, run.outcomes)
	run.mu.Unlock()

	var (
		ref string
		doc []byte
		err error
	)
	if s.emitter != nil {
		ref, doc, err = s.emitter.Persist(ctx, artifact)
		if err != nil {
			return fmt.Errorf("persist artifact: %w", err)
		}
	} else {
		var buf bytes.Buffer
		if err := WriteJSON(&buf, artifact); err != nil {
			return err
		}
		doc = buf.Bytes()
	}

	now := s.now().UTC()
	if err := s.cfg.StoreRetry.Do(ctx, "save result", func(ctx context.Context) error {
		return s.store.SaveResult(ctx, final.ID, ref, doc, now)
	}); err != nil {
		return err
	}
	if err := s.cfg.StoreRetry.Do(ctx, "mark completed", func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, final.ID, models.TaskCompleted, "", now)
	}); err != nil {
		return err
	}

	run.mu.Lock()
	run.task.Status = models.TaskCompleted
	run.task.ResultRef = ref
	run.task.FinishedAt = &now
	run.task.UpdatedAt = now
	run.artifact = artifact
	final = run.task
	run.mu.Unlock()

	s.logger.Info("[batch] task %s completed: %d rows, %d succeeded, %d failed",
		final.ID, final.Total, final.Succeeded, final.Failed)
	s.notify(ctx, EventTaskCompleted, final)
	return nil
}

// fail moves a task straight to failed. Counters already reached are kept.
func (s *BatchService) fail(ctx context.Context, run *taskRun, cause error) {
	now := s.now().UTC()
	run.mu.Lock()
	run.task.Status = models.TaskFailed
	run.task.Error = cause.Error()
	run.task.FinishedAt = &now
	run.task.UpdatedAt = now
	task := run.task
	run.mu.Unlock()

	s.logger.Error("[batch] task %s failed: %v", task.ID, cause)
	if err := s.store.UpdateProgress(ctx, task.Progress(), now); err != nil {
		s.logger.Warn("[batch] task %s: final progress not persisted: %v", task.ID, err)
	}
	if err := s.cfg.StoreRetry.Do(ctx, "mark failed", func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, task.ID, models.TaskFailed, task.Error, now)
	}); err != nil {
		s.logger.Error("[batch] task %s: failed status not persisted: %v", task.ID, err)
	}
	s.notify(ctx, EventTaskCompleted, task)
}

func (s *BatchService) notify(ctx context.Context, kind string, task models.Task) {
	if s.notifier == nil {
		return
	}
	var err error
	switch kind {
	case EventTaskStarted:
		err = s.notifier.TaskStarted(ctx, task)
	case EventTaskCompleted:
		err = s.notifier.TaskCompleted(ctx, task)
	}
	if err != nil {
		s.logger.Warn("[batch] task %s: %s notification failed: %v", task.ID, kind, err)
	}
}
