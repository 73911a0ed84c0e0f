package utils

import (
	"context"
	"sync"
)

// WorkerPool runs a fixed number of long-lived workers. Each worker owns a
// loop that pulls its own work until the loop returns.
type WorkerPool struct {
	size int
	wg   sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given number of workers.
// Sizes below one are raised to one.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{size: size}
}

// Size returns the number of workers the pool starts.
func (wp *WorkerPool) Size() int {
	return wp.size
}

// Start launches the workers. loop receives a 1-based worker id.
func (wp *WorkerPool) Start(ctx context.Context, loop func(ctx context.Context, workerID int)) {
	for i := 1; i <= wp.size; i++ {
		wp.wg.Add(1)
		go func(id int) {
			defer wp.wg.Done()
			loop(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker loop has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// IDSet is a thread-safe set of identifiers that also records the largest
// size it has ever reached.
type IDSet struct {
	mu        sync.RWMutex
	ids       map[string]struct{}
	highWater int
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{ids: make(map[string]struct{})}
}

// Add returns true if the id was newly added, false if already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[id]; exists {
		return false
	}
	s.ids[id] = struct{}{}
	if len(s.ids) > s.highWater {
		s.highWater = len(s.ids)
	}
	return true
}

// Remove deletes the id. Removing an absent id is a no-op.
func (s *IDSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Contains returns true if the id is currently tracked.
func (s *IDSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.ids[id]
	return exists
}

// Size returns the number of ids currently tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// HighWater returns the largest size the set has reached.
func (s *IDSet) HighWater() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highWater
}
