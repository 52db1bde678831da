package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/bootstrap"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
)

// OpenServices returns an Opener that connects to the Redis queues and,
// when events are enabled, to the event exchange on demand.
func OpenServices(logger *slog.Logger) Opener {
	return func(ctx context.Context, path string) (*Services, func() error, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Redis.URL == "" && cfg.Redis.Addr == "" {
			return nil, nil, errors.New("invalid config: redis url or addr is required")
		}

		redisClient, err := bootstrap.InitRedis(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis: %w", err)
		}

		policies := pipeline.PoliciesFromConfig(cfg.Stages)
		store := bootstrap.NewQueueStore(redisClient, cfg.Redis.Prefix, policies, logger)

		svc := &Services{
			Producer: pipeline.NewProducer(store, policies, logger),
			Status:   pipeline.NewStatusService(store),
			Health:   pipeline.NewHealthService(store, nil, nil),
		}
		if cfg.RabbitMQ.Enabled {
			svc.Watch = watchEvents(&cfg.RabbitMQ, logger)
		}
		return svc, redisClient.Close, nil
	}
}

func watchEvents(cfg *config.RabbitMQConfig, logger *slog.Logger) WatchFunc {
	return func(ctx context.Context, keys []string, fn func(events.Event)) error {
		_, client, err := bootstrap.InitEvents(ctx, cfg, bootstrap.EventsOptions{BindingKeys: keys}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer client.Close()

		return events.Subscribe(ctx, client, logger, fn)
	}
}
