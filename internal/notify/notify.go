// Package notify dispatches fire-and-forget notifications. Delivery runs on
// the worker; dispatch failures are logged by callers, never propagated.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Event types carried by notifications.
const (
	EventPaymentReceived = "PAYMENT_RECEIVED"
	EventOfferResponse   = "OFFER_RESPONSE"
	EventHousingApproved = "HOUSING_APPROVED"
)

// TaskTypeEmail is the asynq task type consumed by the worker.
const TaskTypeEmail = "notify:email"

// Event is the payload handed to the dispatcher.
type Event struct {
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Dispatcher queues an event for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// AsynqDispatcher enqueues events on the shared job queue.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

// NewAsynqDispatcher constructs an AsynqDispatcher.
func NewAsynqDispatcher(client *asynq.Client, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = "default"
	}
	return &AsynqDispatcher{client: client, queue: queue}
}

// Dispatch enqueues the event as an email task.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeEmail, payload), asynq.Queue(d.queue), asynq.MaxRetry(5))
	return err
}

// LogDispatcher records events to the logger. Used in development and tests.
type LogDispatcher struct {
	Logger *slog.Logger
}

// Dispatch logs the event.
func (d LogDispatcher) Dispatch(ctx context.Context, ev Event) error {
	if d.Logger != nil {
		d.Logger.Info("notification dispatched",
			slog.String("type", ev.Type),
			slog.String("application_id", ev.ApplicationID),
		)
	}
	return nil
}
