package services

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Next once the queue is closed and drained.
var ErrQueueClosed = errors.New("task queue closed")

// TaskQueue is a FIFO of task ids. Admission, dequeue and cancellation all
// happen under one mutex, so a task is either claimed by a worker or
// removed by a cancel, never both.
type TaskQueue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
	closed bool
	claim  func(id string)
}

// NewTaskQueue creates an empty queue. claim, if set, runs under the queue
// lock for every id handed out by Next.
func NewTaskQueue(claim func(id string)) *TaskQueue {
	return &TaskQueue{signal: make(chan struct{}), claim: claim}
}

// Push appends id to the queue.
func (q *TaskQueue) Push(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, id)
	q.wake()
	return nil
}

// Next blocks until an id is available, the queue is closed and empty, or
// ctx is done.
func (q *TaskQueue) Next(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			if q.claim != nil {
				q.claim(id)
			}
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrQueueClosed
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// Remove deletes a queued id. It reports false when the id is not queued,
// which includes ids already handed to a worker.
func (q *TaskQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.items {
		if queued == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the 0-based queue position of id, or -1.
func (q *TaskQueue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.items {
		if queued == id {
			return i
		}
	}
	return -1
}

// Len returns the number of queued ids.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops admission. Workers keep draining what is already queued.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}

// wake releases every goroutine blocked in Next. Callers hold q.mu.
func (q *TaskQueue) wake() {
	close(q.signal)
	q.signal = make(chan struct{})
}
