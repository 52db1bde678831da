package redisstore_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/queuetest"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/redisstore"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/logger"
)

// setupMiniredis starts an in-process Redis and returns it with a client.
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestStoreContract(t *testing.T) {
	mr, client := setupMiniredis(t)

	n := 0
	queuetest.Run(t, func(t *testing.T, clock *queuetest.Clock, r queue.Retention) queue.Store {
		n++
		// Lock TTLs expire on miniredis' own clock.
		clock.OnAdvance(mr.FastForward)
		return redisstore.New(client,
			redisstore.WithPrefix(fmt.Sprintf("test%d", n)),
			redisstore.WithRetention("content-generation", r),
			redisstore.WithLogger(logger.NewDiscard().Logger),
			redisstore.WithClock(clock.Now),
		)
	})
}

func TestStore_KeysShareQueueHashTag(t *testing.T) {
	ctx := context.Background()
	mr, client := setupMiniredis(t)
	s := redisstore.New(client, redisstore.WithLogger(logger.NewDiscard().Logger))

	for _, q := range []string{"content-generation", "pdf-generation"} {
		_, err := s.Add(ctx, q, queue.NewJob{ID: "job-1", Data: map[string]string{"requestId": "req_1"}})
		require.NoError(t, err)
	}
	j, err := s.Claim(ctx, "content-generation", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, j)

	keys := mr.Keys()
	assert.Contains(t, keys, "ebook:{content-generation}:job:job-1")
	assert.Contains(t, keys, "ebook:{content-generation}:lock:job-1")
	assert.Contains(t, keys, "ebook:{pdf-generation}:wait")
	for _, k := range keys {
		assert.True(t,
			strings.HasPrefix(k, "ebook:{content-generation}:") || strings.HasPrefix(k, "ebook:{pdf-generation}:"),
			"key %s lacks a queue hash tag", k)
	}
}

func TestStore_CompleteClearsEarlierFailure(t *testing.T) {
	ctx := context.Background()
	mr, client := setupMiniredis(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := redisstore.New(client,
		redisstore.WithLogger(logger.NewDiscard().Logger),
		redisstore.WithClock(func() time.Time { return now }),
	)

	_, err := s.Add(ctx, "file-upload", queue.NewJob{ID: "upload-req_1", Data: struct{}{}})
	require.NoError(t, err)

	j, err := s.Claim(ctx, "file-upload", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, j, queue.Failure{Reason: "disk full", Kind: queue.FailureError}))
	assert.Equal(t, "disk full", mr.HGet("ebook:{file-upload}:job:upload-req_1", "failedReason"))

	now = now.Add(time.Hour)
	j, err = s.Claim(ctx, "file-upload", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, j)
	require.NoError(t, s.Complete(ctx, j, map[string]string{"fileUrl": "http://x/y.pdf"}))

	fields, err := mr.HKeys("ebook:{file-upload}:job:upload-req_1")
	require.NoError(t, err)
	assert.NotContains(t, fields, "failedReason")
	assert.NotContains(t, fields, "failureKind")
}
