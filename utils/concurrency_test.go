package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestIDSetNoDuplicates(t *testing.T) {
	s := NewIDSet()

	added := s.Add("task-1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("task-1")
	if added {
		t.Error("second Add of same id should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestIDSetHighWater(t *testing.T) {
	s := NewIDSet()
	s.Add("a")
	s.Add("b")
	s.Add("c")
	s.Remove("b")
	s.Remove("a")
	s.Add("d")

	if s.Size() != 2 {
		t.Errorf("size: got %d, want 2", s.Size())
	}
	if s.HighWater() != 3 {
		t.Errorf("high water: got %d, want 3", s.HighWater())
	}
	if s.Contains("a") {
		t.Error("removed id should not be contained")
	}
}

func TestIDSetConcurrency(t *testing.T) {
	s := NewIDSet()
	var added int64

	jobs := make(chan string)
	pool := NewWorkerPool(10)
	pool.Start(context.Background(), func(ctx context.Context, _ int) {
		for id := range jobs {
			if s.Add(id) {
				atomic.AddInt64(&added, 1)
			}
		}
	})
	for i := 0; i < 100; i++ {
		jobs <- "same"
	}
	close(jobs)
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolStartsFixedWorkers(t *testing.T) {
	pool := NewWorkerPool(4)
	if pool.Size() != 4 {
		t.Fatalf("size: got %d, want 4", pool.Size())
	}

	var mu sync.Mutex
	seen := make(map[int]bool)
	pool.Start(context.Background(), func(ctx context.Context, id int) {
		mu.Lock()
		seen[id] = true
		mu.Unlock()
	})
	pool.Wait()

	if len(seen) != 4 {
		t.Errorf("workers started: got %d, want 4", len(seen))
	}
	for id := 1; id <= 4; id++ {
		if !seen[id] {
			t.Errorf("worker %d never ran", id)
		}
	}
}

func TestWorkerPoolMinimumSize(t *testing.T) {
	if got := NewWorkerPool(0).Size(); got != 1 {
		t.Errorf("size: got %d, want 1", got)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewNopLogger()}
	calls := 0
	err := r.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	sentinel := errors.New("down")
	r := &RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Logger: NewNopLogger()}
	err := r.Do(context.Background(), "always", func(ctx context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
}
