package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/memstore"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/queuetest"
)

func TestStoreContract(t *testing.T) {
	queuetest.Run(t, func(t *testing.T, clock *queuetest.Clock, r queue.Retention) queue.Store {
		return memstore.New(
			memstore.WithClock(clock.Now),
			memstore.WithRetention("content-generation", r),
		)
	})
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	outage := errors.New("connection refused")

	s.SetUnavailable(outage)

	_, err := s.Add(ctx, "content-generation", queue.NewJob{ID: "x"})
	assert.ErrorIs(t, err, outage)
	_, err = s.Get(ctx, "content-generation", "x")
	assert.ErrorIs(t, err, outage)
	assert.ErrorIs(t, s.Ping(ctx), outage)

	s.SetUnavailable(nil)
	_, err = s.Add(ctx, "content-generation", queue.NewJob{ID: "x"})
	require.NoError(t, err)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Add(ctx, "content-generation", queue.NewJob{ID: "x", Data: map[string]string{"a": "b"}})
	require.NoError(t, err)

	got, err := s.Get(ctx, "content-generation", "x")
	require.NoError(t, err)
	got.State = queue.StateFailed
	got.Data[0] = '['

	again, err := s.Get(ctx, "content-generation", "x")
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, again.State)
	assert.JSONEq(t, `{"a":"b"}`, string(again.Data))
}
