package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// spawnWorkerPool spawns N consumer goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop claims and processes jobs until the worker stops. Broker errors
// are logged and retried after the poll interval.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		if ctx.Err() != nil || w.stopping() {
			w.logger.Debug("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return
		}

		j, err := w.store.Claim(ctx, w.queue, w.lockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to claim job",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
			if !w.wait(ctx, w.pollInterval) {
				return
			}
			continue
		}

		if j == nil {
			if !w.wait(ctx, w.pollInterval) {
				return
			}
			continue
		}

		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.AttemptsMade+1),
		)
		w.processJob(j)
	}
}

// stalledLoop periodically sweeps jobs whose lock expired
func (w *Worker) stalledLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.stalledInterval)
	defer ticker.Stop()

	for {
		w.recoverStalled(ctx)

		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) recoverStalled(ctx context.Context) {
	stalled, err := w.store.RecoverStalled(ctx, w.queue, w.maxStalled)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to recover stalled jobs",
				slog.Any("error", err),
			)
		}
		return
	}
	if len(stalled.Requeued) > 0 {
		w.metrics.recordStalled(ctx, w.queue, outcomeRequeued, len(stalled.Requeued))
		w.logger.Warn("Stalled jobs returned to queue",
			slog.Int("count", len(stalled.Requeued)),
			slog.Any("job_ids", stalled.Requeued),
		)
	}
	if len(stalled.Failed) > 0 {
		w.metrics.recordStalled(ctx, w.queue, outcomeFailed, len(stalled.Failed))
		w.logger.Error("Stalled jobs exceeded the stalled limit",
			slog.Int("count", len(stalled.Failed)),
			slog.Int("max_stalled", w.maxStalled),
			slog.Any("job_ids", stalled.Failed),
		)
		for _, id := range stalled.Failed {
			w.publish(ctx, w.queue, id, events.StateFailed, 0, queue.StalledReason)
		}
	}
}
