// Package worker runs a bounded pool of consumers against one queue. Each
// consumer claims a job, runs the stage handler under a timeout while a
// heartbeat keeps the job's lock alive, enqueues the follow-up job when the
// handler asks for one and then completes or fails the job.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// Config holds worker configuration
type Config struct {
	Name    string
	Queue   string
	Store   queue.Store
	Handler Handler
	Logger  *slog.Logger
	Events  events.Publisher
	Meter   metric.Meter
	Tracer  trace.Tracer

	Concurrency       int
	JobTimeout        time.Duration
	LockDuration      time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	StalledInterval   time.Duration
	// MaxStalled is how many lock expiries a job survives before it is
	// failed. Defaults to 1.
	MaxStalled int
}

// Worker consumes one queue
type Worker struct {
	name     string
	queue    string
	workerID string
	store    queue.Store
	handler  Handler
	logger   *slog.Logger
	events   events.Publisher
	metrics  *metrics
	tracer   trace.Tracer

	concurrency       int
	jobTimeout        time.Duration
	lockDuration      time.Duration
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	stalledInterval   time.Duration
	maxStalled        int

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	// jobsCtx outlives the Start context so in-flight jobs can drain; Stop
	// cancels it once the shutdown deadline passes.
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		name:              cfg.Name,
		queue:             cfg.Queue,
		store:             cfg.Store,
		handler:           cfg.Handler,
		logger:            cfg.Logger,
		events:            cfg.Events,
		tracer:            cfg.Tracer,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		lockDuration:      cfg.LockDuration,
		heartbeatInterval: cfg.HeartbeatInterval,
		pollInterval:      cfg.PollInterval,
		stalledInterval:   cfg.StalledInterval,
		maxStalled:        cfg.MaxStalled,
		stopChan:          make(chan struct{}),
	}

	if w.name == "" {
		w.name = w.queue
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.events == nil {
		w.events = events.Nop{}
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	w.metrics = newMetrics(meter)
	if w.tracer == nil {
		w.tracer = otel.Tracer(instrumentationName)
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 5 * time.Minute
	}
	if w.lockDuration <= 0 {
		w.lockDuration = 30 * time.Second
	}
	if w.heartbeatInterval <= 0 || w.heartbeatInterval >= w.lockDuration {
		w.heartbeatInterval = w.lockDuration / 3
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 500 * time.Millisecond
	}
	if w.stalledInterval <= 0 {
		w.stalledInterval = w.lockDuration
	}
	if w.maxStalled <= 0 {
		w.maxStalled = 1
	}

	host, _ := os.Hostname()
	w.workerID = fmt.Sprintf("%s-%s-%s", w.name, host, uuid.NewString()[:8])
	w.logger = w.logger.With(
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.queue),
	)

	w.jobsCtx, w.cancelJobs = context.WithCancel(context.Background())
	return w
}

// Start spawns the consumer pool and the stalled-job checker, then blocks
// until ctx is canceled or Stop is called. Jobs already running keep going;
// call Stop to drain them.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("lock_duration", w.lockDuration),
		slog.Int("max_stalled", w.maxStalled),
	)

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.stalledLoop(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}
	return nil
}

// Stop stops claiming new jobs and waits for in-flight jobs. When ctx
// expires first, running handlers are canceled and left for stalled
// recovery; Stop then returns ctx.Err().
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancelJobs()
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Worker shutdown timeout exceeded, canceling in-flight jobs")
		w.cancelJobs()
		<-done
		return ctx.Err()
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

// wait sleeps for d and reports false when the worker should exit instead
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) publish(ctx context.Context, queueName, jobID string, state events.State, attempt int, errMsg string) {
	err := w.events.Publish(ctx, events.Event{
		Queue:     queueName,
		JobID:     jobID,
		State:     state,
		Attempt:   attempt,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		w.logger.Warn("Failed to publish job event",
			slog.String("job_id", jobID),
			slog.String("state", string(state)),
			slog.Any("error", err),
		)
	}
}
