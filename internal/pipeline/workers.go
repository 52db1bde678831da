package pipeline

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"
)

// Capabilities are the stage functions the workers invoke.
type Capabilities struct {
	Content  ContentGenerator
	Renderer Renderer
	Uploader Uploader
}

// WorkerOptions holds the settings shared by the three stage workers.
type WorkerOptions struct {
	Logger            *slog.Logger
	Events            events.Publisher
	Meter             metric.Meter
	Tracer            trace.Tracer
	LockDuration      time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	StalledInterval   time.Duration
	MaxStalled        int
}

// NewWorkers builds one worker per stage, in pipeline order, each bound to
// its stage queue and sized by its policy.
func NewWorkers(store queue.Store, caps Capabilities, policies Policies, opts WorkerOptions) []*worker.Worker {
	handlers := map[Stage]worker.Handler{
		StageContent: NewContentHandler(caps.Content, policies),
		StageRender:  NewRenderHandler(caps.Renderer, policies),
		StageUpload:  NewUploadHandler(caps.Uploader),
	}

	workers := make([]*worker.Worker, 0, len(stages))
	for _, d := range stages {
		pol := policies.For(d.Stage)
		workers = append(workers, worker.NewWorker(&worker.Config{
			Name:              string(d.Stage),
			Queue:             d.Queue,
			Store:             store,
			Handler:           handlers[d.Stage],
			Logger:            opts.Logger,
			Events:            opts.Events,
			Meter:             opts.Meter,
			Tracer:            opts.Tracer,
			Concurrency:       pol.Concurrency,
			JobTimeout:        pol.Timeout,
			LockDuration:      opts.LockDuration,
			HeartbeatInterval: opts.HeartbeatInterval,
			PollInterval:      opts.PollInterval,
			StalledInterval:   opts.StalledInterval,
			MaxStalled:        opts.MaxStalled,
		}))
	}
	return workers
}
