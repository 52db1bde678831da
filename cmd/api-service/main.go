package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/api/handler"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/api/router"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/bootstrap"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bootstrap.LoadEnv()

	configPath := flag.String("config",
		bootstrap.DefaultConfigPath("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml"),
		"Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()
	var closers []bootstrap.Closer
	defer func() { _ = bootstrap.Cleanup(logger, closers...) }()

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

	policies := pipeline.PoliciesFromConfig(cfg.Stages)
	store := bootstrap.NewQueueStore(redisClient, cfg.Redis.Prefix, policies, logger)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: initRouter(cfg, &handler.Dependencies{
			Logger:   logger,
			App:      cfg.App,
			Auth:     cfg.Auth,
			Producer: pipeline.NewProducer(store, policies, logger, pipeline.WithProducerEvents(publisher)),
			Status:   pipeline.NewStatusService(store),
			Health:   pipeline.NewHealthService(store, dbClient.HealthCheck, bootstrap.EventsCheck(rabbitClient)),
			Files:    files,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	logger.Info("API service shutdown complete")
	return nil
}

// initRouter sets the gin mode for the environment and builds the router
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	return router.SetupRouter(deps)
}
