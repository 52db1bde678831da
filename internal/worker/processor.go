package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// processJob runs one claimed job to completion or failure
func (w *Worker) processJob(j *queue.Job) {
	logger := w.logger.With(
		slog.String("job_id", j.ID),
		slog.Int("attempt", j.AttemptsMade+1),
	)

	ctx, span := w.tracer.Start(w.jobsCtx, "ebook.job.process",
		trace.WithAttributes(
			attribute.String("ebook.job.id", j.ID),
			attribute.String("ebook.job.name", j.Name),
			attribute.String("ebook.queue", j.Queue),
			attribute.Int("ebook.attempt", j.AttemptsMade+1),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	w.publish(ctx, j.Queue, j.ID, events.StateActive, j.AttemptsMade+1, "")

	start := time.Now()
	outcome, err := w.execute(ctx, j, logger)
	if err == nil {
		err = w.chain(ctx, outcome, logger)
	}
	elapsed := time.Since(start)

	if w.jobsCtx.Err() != nil {
		// Shutdown deadline hit: leave the job active so its lock expires
		// and another worker picks it up.
		logger.Warn("Job interrupted by shutdown",
			slog.Duration("elapsed", elapsed),
		)
		span.SetStatus(codes.Error, "interrupted by shutdown")
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, j, err, elapsed, logger)
		return
	}

	span.SetStatus(codes.Ok, "")
	w.complete(ctx, j, outcome, elapsed, logger)
}

// execute runs the handler under the stage timeout with a heartbeat
func (w *Worker) execute(ctx context.Context, j *queue.Job, logger *slog.Logger) (*Outcome, error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, j, heartbeatDone, logger)
	defer close(heartbeatDone)

	progress := func(pct int) {
		if err := w.store.UpdateProgress(jobCtx, j, pct); err != nil {
			logger.Warn("Failed to update job progress",
				slog.Int("progress", pct),
				slog.Any("error", err),
			)
		}
	}

	outcome, err := w.runHandler(jobCtx, j, progress)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &TimeoutError{Timeout: w.jobTimeout}
	}
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		outcome = &Outcome{}
	}
	return outcome, nil
}

type handlerResult struct {
	outcome *Outcome
	err     error
}

// runHandler returns as soon as ctx is done even if the handler ignores it
func (w *Worker) runHandler(ctx context.Context, j *queue.Job, progress ProgressFunc) (*Outcome, error) {
	done := make(chan handlerResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Handler panicked",
					slog.String("job_id", j.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		outcome, err := w.handler.Handle(ctx, j, progress)
		done <- handlerResult{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// chain enqueues the next stage's job. An existing job with the same id
// means this completion was already chained.
func (w *Worker) chain(ctx context.Context, outcome *Outcome, logger *slog.Logger) error {
	if outcome.Next == nil {
		return nil
	}
	next := outcome.Next

	_, err := w.store.Add(ctx, next.Queue, next.Job)
	if errors.Is(err, queue.ErrJobExists) {
		logger.Info("Next stage job already enqueued",
			slog.String("next_queue", next.Queue),
			slog.String("next_job_id", next.Job.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue next stage job: %w", err)
	}

	logger.Info("Next stage job enqueued",
		slog.String("next_queue", next.Queue),
		slog.String("next_job_id", next.Job.ID),
	)
	w.publish(ctx, next.Queue, next.Job.ID, events.StateWaiting, 0, "")
	return nil
}

func (w *Worker) complete(ctx context.Context, j *queue.Job, outcome *Outcome, elapsed time.Duration, logger *slog.Logger) {
	err := w.store.Complete(ctx, j, outcome.Result)
	switch {
	case errors.Is(err, queue.ErrLockLost):
		logger.Warn("Completion rejected, job no longer owned by this worker")
		return
	case err != nil:
		logger.Error("Failed to update job status to completed",
			slog.Any("error", err),
		)
		return
	}

	w.metrics.record(ctx, j.Queue, w.name, "ok", elapsed)
	w.publish(ctx, j.Queue, j.ID, events.StateCompleted, j.AttemptsMade+1, "")
	logger.Info("Job completed successfully",
		slog.Duration("elapsed", elapsed),
	)
}

func (w *Worker) fail(ctx context.Context, j *queue.Job, jobErr error, elapsed time.Duration, logger *slog.Logger) {
	failure := classifyFailure(jobErr)
	retryAt := queue.NextAttempt(j, failure, time.Now())

	err := w.store.Fail(ctx, j, failure)
	switch {
	case errors.Is(err, queue.ErrLockLost):
		logger.Warn("Failure not recorded, job no longer owned by this worker",
			slog.String("error", jobErr.Error()),
		)
		return
	case err != nil:
		logger.Error("Failed to update job status to failed",
			slog.String("job_error", jobErr.Error()),
			slog.Any("error", err),
		)
		return
	}

	status := "error"
	if failure.Kind != queue.FailureError {
		status = string(failure.Kind)
	}
	w.metrics.record(ctx, j.Queue, w.name, status, elapsed)

	if retryAt != nil {
		logger.Warn("Job failed, will be retried",
			slog.String("error", jobErr.Error()),
			slog.String("failure_kind", string(failure.Kind)),
			slog.Time("retry_at", *retryAt),
			slog.Int("max_attempts", j.MaxAttempts),
		)
		w.publish(ctx, j.Queue, j.ID, events.StateRetrying, j.AttemptsMade+1, failure.Reason)
		return
	}

	logger.Error("Job failed permanently",
		slog.String("error", jobErr.Error()),
		slog.String("failure_kind", string(failure.Kind)),
		slog.Int("max_attempts", j.MaxAttempts),
	)
	w.publish(ctx, j.Queue, j.ID, events.StateFailed, j.AttemptsMade+1, failure.Reason)
}

// sendJobHeartbeat extends the job lock until done is closed
func (w *Worker) sendJobHeartbeat(ctx context.Context, j *queue.Job, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.store.ExtendLock(ctx, j, w.lockDuration)
			if errors.Is(err, queue.ErrLockLost) {
				logger.Warn("Job lock lost during heartbeat")
				return
			}
			if err != nil {
				logger.Warn("Failed to extend job lock",
					slog.Any("error", err),
				)
			}
		}
	}
}
