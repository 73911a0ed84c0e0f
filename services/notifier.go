package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"property-valuation/models"
	"property-valuation/utils"
)

// Event names sent to notifiers.
const (
	EventTaskStarted   = "task.started"
	EventTaskCompleted = "task.completed"
)

// Notifier receives task lifecycle events. Delivery errors are logged by the
// caller and never fail a task.
type Notifier interface {
	TaskStarted(ctx context.Context, task models.Task) error
	TaskCompleted(ctx context.Context, task models.Task) error
}

// Event is the payload delivered for a lifecycle event.
type Event struct {
	Type      string          `json:"type"`
	Task      models.Progress `json:"task"`
	Filename  string          `json:"filename"`
	ResultRef string          `json:"result_ref,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

func newEvent(kind string, task models.Task) Event {
	return Event{
		Type:      kind,
		Task:      task.Progress(),
		Filename:  task.Filename,
		ResultRef: task.ResultRef,
		Error:     task.Error,
		At:        time.Now().UTC(),
	}
}

// LogNotifier writes events to the application log.
type LogNotifier struct {
	logger *utils.Logger
}

func NewLogNotifier(logger *utils.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) TaskStarted(ctx context.Context, task models.Task) error {
	n.logger.Info("[notify] task %s started: %s (%d rows)", task.ID, task.Filename, task.Total)
	return nil
}

func (n *LogNotifier) TaskCompleted(ctx context.Context, task models.Task) error {
	if task.Status == models.TaskFailed {
		n.logger.Warn("[notify] task %s failed: %s", task.ID, task.Error)
		return nil
	}
	n.logger.Info("[notify] task %s %s: %d/%d rows succeeded, result %s",
		task.ID, task.Status, task.Succeeded, task.Total, task.ResultRef)
	return nil
}

const webhookDefaultTimeout = 10 * time.Second

// WebhookNotifier POSTs each event as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  utils.RetryConfig
}

// NewWebhookNotifier creates a notifier for url. A nil client gets a
// default one with a timeout.
func NewWebhookNotifier(url string, client *http.Client, retry utils.RetryConfig) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: webhookDefaultTimeout}
	}
	return &WebhookNotifier{url: url, client: client, retry: retry}, nil
}

func (w *WebhookNotifier) TaskStarted(ctx context.Context, task models.Task) error {
	return w.send(ctx, newEvent(EventTaskStarted, task))
}

func (w *WebhookNotifier) TaskCompleted(ctx context.Context, task models.Task) error {
	return w.send(ctx, newEvent(EventTaskCompleted, task))
}

func (w *WebhookNotifier) send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}
	return w.retry.Do(ctx, "webhook "+ev.Type, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
		}
		return nil
	})
}

// MultiNotifier fans an event out to several notifiers and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) TaskStarted(ctx context.Context, task models.Task) error {
	var errs []error
	for _, n := range m {
		if err := n.TaskStarted(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) TaskCompleted(ctx context.Context, task models.Task) error {
	var errs []error
	for _, n := range m {
		if err := n.TaskCompleted(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
