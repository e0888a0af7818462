// Package notify dispatches fire-and-forget notifications about document
// state changes. Delivery runs on the background worker; enqueue failures are
// logged and never abort the financial transaction that triggered them.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotify is the task type for outbound notifications.
	TaskTypeNotify = "notify:send"
)

// Event describes a notification to deliver.
type Event struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	ReferenceID string `json:"reference_id"`
}

// Payload is the wire format of a notification task.
type Payload struct {
	Recipients []string `json:"recipients"`
	Event      Event    `json:"event"`
}

// Notifier dispatches events to recipients.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, event Event) error
}

// NewTask constructs an Asynq task for the payload.
func NewTask(payload Payload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, data, asynq.Queue(QueueDefault)), nil
}

// AsynqNotifier enqueues notification tasks on Redis.
type AsynqNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqNotifier constructs an AsynqNotifier.
func NewAsynqNotifier(client *asynq.Client, logger *slog.Logger) *AsynqNotifier {
	return &AsynqNotifier{client: client, logger: logger}
}

// Notify enqueues the event for background delivery.
func (n *AsynqNotifier) Notify(ctx context.Context, recipients []string, event Event) error {
	if n == nil || n.client == nil || len(recipients) == 0 {
		return nil
	}
	task, err := NewTask(Payload{Recipients: recipients, Event: event})
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		n.logger.Warn("enqueue notification", slog.String("type", event.Type), slog.Any("error", err))
		return err
	}
	return nil
}

// Nop is a Notifier that drops every event, used in tests.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, []string, Event) error { return nil }
