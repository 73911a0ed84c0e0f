package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"property-valuation/models"
	"property-valuation/utils"
)

func completedTask() models.Task {
	return models.Task{
		ID: "task-9", Filename: "listings.xlsx", Status: models.TaskCompleted,
		Total: 4, Processed: 4, Succeeded: 3, Failed: 1, ResultRef: "s3://valuations/task-9_result.json",
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	events := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: got %q", r.Header.Get("Content-Type"))
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		events <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL, srv.Client(), utils.RetryConfig{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	if err := n.TaskCompleted(context.Background(), completedTask()); err != nil {
		t.Fatalf("TaskCompleted: %v", err)
	}

	ev := <-events
	if ev.Type != EventTaskCompleted {
		t.Errorf("type: got %q, want %q", ev.Type, EventTaskCompleted)
	}
	if ev.Task.Status != models.TaskCompleted || ev.Task.Percent != 100 {
		t.Errorf("task: got %+v", ev.Task)
	}
	if ev.ResultRef != "s3://valuations/task-9_result.json" || ev.Filename != "listings.xlsx" {
		t.Errorf("event: got %+v", ev)
	}
}

func TestWebhookNotifierRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, _ := NewWebhookNotifier(srv.URL, nil, utils.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})
	if err := n.TaskStarted(context.Background(), completedTask()); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls: got %d, want 2", got)
	}
}

func TestWebhookNotifierGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, _ := NewWebhookNotifier(srv.URL, nil, utils.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})
	if err := n.TaskCompleted(context.Background(), completedTask()); err == nil {
		t.Fatal("expected an error for a failing endpoint")
	}
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	if _, err := NewWebhookNotifier("  ", nil, utils.RetryConfig{}); err == nil {
		t.Error("expected an error for a blank url")
	}
}

type errNotifier struct{ err error }

func (e errNotifier) TaskStarted(ctx context.Context, task models.Task) error   { return e.err }
func (e errNotifier) TaskCompleted(ctx context.Context, task models.Task) error { return e.err }

func TestMultiNotifier(t *testing.T) {
	boom := errors.New("boom")
	m := MultiNotifier{NewLogNotifier(newTestLogger()), errNotifier{boom}, errNotifier{nil}}

	if err := m.TaskCompleted(context.Background(), completedTask()); !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap boom, got %v", err)
	}
	if err := (MultiNotifier{NewLogNotifier(newTestLogger())}).TaskStarted(context.Background(), completedTask()); err != nil {
		t.Errorf("log notifier should not fail, got %v", err)
	}
}
