package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/bootstrap"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/content"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/render"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/storage"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bootstrap.LoadEnv()

	configPath := flag.String("config",
		bootstrap.DefaultConfigPath("WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml"),
		"Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("content_provider", cfg.Content.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []bootstrap.Closer
	defer func() { _ = bootstrap.Cleanup(logger, closers...) }()

	meterProvider, reader := bootstrap.InitMetrics()
	closers = append(closers, func() error {
		_ = bootstrap.LogMetrics(context.Background(), reader, logger)
		return meterProvider.Shutdown(context.Background())
	})

	redisClient, err := bootstrap.InitRedis(ctx, &cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	closers = append(closers, redisClient.Close)

	dbClient, err := bootstrap.InitPostgreSQL(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	closers = append(closers, dbClient.Close)

	files := storage.NewStorage(dbClient, cfg.Storage.PublicBaseURL, logger)
	if err := files.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare storage schema: %w", err)
	}

	publisher, rabbitClient, err := bootstrap.InitEvents(ctx, &cfg.RabbitMQ, bootstrap.EventsOptions{}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		closers = append(closers, rabbitClient.Close)
	}

	generator, err := initContentGenerator(&cfg.Content, logger)
	if err != nil {
		return err
	}

	policies := pipeline.PoliciesFromConfig(cfg.Stages)
	store := bootstrap.NewQueueStore(redisClient, cfg.Redis.Prefix, policies, logger)

	workers := pipeline.NewWorkers(store, pipeline.Capabilities{
		Content:  generator,
		Renderer: render.NewPDFRenderer(logger),
		Uploader: files,
	}, policies, pipeline.WorkerOptions{
		Logger:            logger,
		Events:            publisher,
		LockDuration:      cfg.Worker.LockDuration,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Worker.PollInterval,
		StalledInterval:   cfg.Worker.StalledInterval,
		MaxStalled:        cfg.Worker.MaxStalled,
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.Start(gctx) })
	}
	g.Go(func() error {
		bootstrap.ReportMetrics(gctx, reader, logger, cfg.Worker.MetricsInterval)
		return nil
	})

	logger.Info("Worker service started successfully", slog.Int("workers", len(workers)))

	<-gctx.Done()
	logger.Info("Shutting down gracefully")

	shutdownErr := stopWorkers(workers, cfg.Worker.ShutdownTimeout)
	if err := g.Wait(); err != nil {
		logger.Error("Worker error", slog.Any("error", err))
		return err
	}
	if shutdownErr != nil {
		logger.Warn("Worker shutdown timeout exceeded, in-flight jobs left for stalled recovery")
	}

	logger.Info("Worker service shutdown complete")
	return nil
}

// stopWorkers drains every worker in parallel under one shared deadline
func stopWorkers(workers []*worker.Worker, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error { return w.Stop(ctx) })
	}
	return g.Wait()
}

// initContentGenerator picks the content generator for the configured provider
func initContentGenerator(cfg *config.ContentConfig, logger *slog.Logger) (pipeline.ContentGenerator, error) {
	switch cfg.Provider {
	case config.ProviderTemplate:
		return content.NewTemplateGenerator(), nil
	case config.ProviderOpenAI:
		return content.NewOpenAIGenerator(content.Config{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			RatePerMinute: cfg.RatePerMinute,
			Burst:         cfg.Burst,
			Timeout:       cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown content provider %q", cfg.Provider)
	}
}
