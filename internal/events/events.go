// Package events publishes job lifecycle transitions to a RabbitMQ topic
// exchange so operators and downstream consumers can follow the pipeline
// without polling. Routing keys are "<queue>.<state>".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/rabbitmq"
)

// State names a lifecycle transition.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateRetrying  State = "retrying"
	StateFailed    State = "failed"
)

// Event is one lifecycle transition of a job.
type Event struct {
	Queue     string    `json:"queue"`
	JobID     string    `json:"jobId"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoutingKey returns the topic routing key of the event.
func (e Event) RoutingKey() string {
	return e.Queue + "." + string(e.State)
}

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// RabbitPublisher publishes events as JSON to the client's exchange.
type RabbitPublisher struct {
	client *rabbitmq.Client
}

// NewRabbitPublisher wraps a connected client.
func NewRabbitPublisher(client *rabbitmq.Client) *RabbitPublisher {
	return &RabbitPublisher{client: client}
}

// Publish implements Publisher.
func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.PublishWithRetry(ctx, e.RoutingKey(), body, "application/json")
}

// Subscribe consumes events from the client's queue and calls fn for each
// until ctx is done or the delivery channel closes. Malformed messages are
// logged and skipped.
func Subscribe(ctx context.Context, client *rabbitmq.Client, logger *slog.Logger, fn func(Event)) error {
	deliveries, err := client.Consume("")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			var e Event
			if err := json.Unmarshal(d.Body, &e); err != nil {
				logger.Warn("Skipping malformed event",
					slog.String("routing_key", d.RoutingKey),
					slog.Any("error", err),
				)
				continue
			}
			fn(e)
		}
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Keys returns the routing keys recorded for jobID, in order.
func (r *Recorder) Keys(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, e := range r.events {
		if e.JobID == jobID {
			keys = append(keys, e.RoutingKey())
		}
	}
	return keys
}
