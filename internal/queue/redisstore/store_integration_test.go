//go:build integration

package redisstore_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/queuetest"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/redisstore"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestStoreContract_RedisServer(t *testing.T) {
	client := setupRedis(t)

	n := 0
	queuetest.Run(t, func(t *testing.T, clock *queuetest.Clock, r queue.Retention) queue.Store {
		n++
		return redisstore.New(client,
			redisstore.WithPrefix(fmt.Sprintf("test%d", n)),
			redisstore.WithRetention("content-generation", r),
			redisstore.WithLogger(slog.Default()),
			redisstore.WithClock(clock.Now),
		)
	})
}
