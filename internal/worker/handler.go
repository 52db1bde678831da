package worker

import (
	"context"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// ProgressFunc reports 0-100 progress for the job being handled.
type ProgressFunc func(pct int)

// Next is a job the worker enqueues before completing the current one.
type Next struct {
	Queue string
	Job   queue.NewJob
}

// Outcome is the successful result of handling a job. Result is stored as
// the job's return value; Next, when set, is enqueued first.
type Outcome struct {
	Result any
	Next   *Next
}

// Handler runs the stage function of one queue.
type Handler interface {
	Handle(ctx context.Context, j *queue.Job, progress ProgressFunc) (*Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *queue.Job, progress ProgressFunc) (*Outcome, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, j *queue.Job, progress ProgressFunc) (*Outcome, error) {
	return f(ctx, j, progress)
}
