// Package bootstrap builds the clients shared by the service binaries from
// the loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/redisstore"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/logger"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/postgresql"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/rabbitmq"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/redis"
)

// LoadEnv reads a .env file from the working directory when one exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}
}

// DefaultConfigPath returns the value of envVar, or fallback when unset.
func DefaultConfigPath(envVar, fallback string) string {
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return fallback
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// InitRedis initializes the Redis client backing the queues
func InitRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		URL:         cfg.URL,
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}, logger)
}

// NewQueueStore wraps the Redis client in a queue store that trims every
// stage queue by its retention policy.
func NewQueueStore(client *redis.Client, prefix string, policies pipeline.Policies, logger *slog.Logger) *redisstore.Store {
	opts := []redisstore.Option{
		redisstore.WithPrefix(prefix),
		redisstore.WithLogger(logger),
	}
	for _, d := range pipeline.Stages() {
		opts = append(opts, redisstore.WithRetention(d.Queue, policies.For(d.Stage).Retention))
	}
	return redisstore.New(client.GetClient(), opts...)
}

// EventsOptions customizes the RabbitMQ client built by InitEvents.
type EventsOptions struct {
	// BindingKeys, when set, declares an exclusive server-named queue bound
	// with these keys so the client can consume.
	BindingKeys []string
}

// InitEvents connects to the lifecycle event exchange. When events are
// disabled it returns a Nop publisher and a nil client.
func InitEvents(ctx context.Context, cfg *config.RabbitMQConfig, opts EventsOptions, logger *slog.Logger) (events.Publisher, *rabbitmq.Client, error) {
	if !cfg.Enabled {
		return events.Nop{}, nil, nil
	}

	client, err := rabbitmq.NewClient(ctx, &rabbitmq.Config{
		URL:                cfg.URL,
		ExchangeName:       cfg.Exchange,
		ExchangeType:       "topic",
		ExchangeDurable:    true,
		QueueExclusive:     len(opts.BindingKeys) > 0,
		QueueAutoDelete:    len(opts.BindingKeys) > 0,
		BindingKeys:        opts.BindingKeys,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return events.NewRabbitPublisher(client), client, nil
}

// EventsCheck reports the event exchange connection for health checks.
// A nil client means events are disabled and yields a nil check.
func EventsCheck(client *rabbitmq.Client) pipeline.CheckFunc {
	if client == nil {
		return nil
	}
	return func(context.Context) error {
		if !client.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	}
}

// Closer releases one resource on shutdown.
type Closer func() error

// Cleanup runs closers in reverse order and joins their errors.
func Cleanup(logger *slog.Logger, closers ...Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.Warn("Cleanup finished with errors", slog.Any("error", err))
	}
	return err
}

