// Package queuetest holds the behavioural contract every queue.Store backend
// must satisfy. Backends run it from their own tests.
package queuetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	hooks []func(time.Duration)
}

// NewClock returns a clock frozen at a millisecond-aligned instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and runs the registered hooks.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	hooks := append(([]func(time.Duration))(nil), c.hooks...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(d)
	}
}

// OnAdvance registers fn to run after every Advance. Backends whose key
// expiry has its own clock use it to follow the fake time.
func (c *Clock) OnAdvance(fn func(time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Factory builds a fresh, empty store driven by clock.
type Factory func(t *testing.T, clock *Clock, retention queue.Retention) queue.Store

const (
	testQueue = "content-generation"
	lockTTL   = 30 * time.Second
)

type payload struct {
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

// Run executes the store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	setup := func(t *testing.T) (queue.Store, *Clock) {
		clock := NewClock()
		return newStore(t, clock, queue.Retention{KeepCompleted: 5, KeepFailed: 3}), clock
	}

	t.Run("add and get", func(t *testing.T) {
		s, clock := setup(t)

		added, err := s.Add(ctx, testQueue, queue.NewJob{
			ID:   "ebook-req_1",
			Name: "generate-content",
			Data: payload{UserID: "u1", RequestID: "req_1"},
		})
		require.NoError(t, err)
		assert.Equal(t, queue.StateWaiting, added.State)

		got, err := s.Get(ctx, testQueue, "ebook-req_1")
		require.NoError(t, err)
		assert.Equal(t, "ebook-req_1", got.ID)
		assert.Equal(t, "generate-content", got.Name)
		assert.Equal(t, testQueue, got.Queue)
		assert.Equal(t, queue.StateWaiting, got.State)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Equal(t, queue.DefaultBackoff, got.Backoff)
		assert.Equal(t, 0, got.AttemptsMade)
		assert.WithinDuration(t, clock.Now(), got.CreatedAt, time.Millisecond)
		assert.Nil(t, got.ProcessedAt)
		assert.Nil(t, got.FinishedAt)

		var p payload
		require.NoError(t, got.Decode(&p))
		assert.Equal(t, payload{UserID: "u1", RequestID: "req_1"}, p)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "ebook-dup", Data: payload{UserID: "a"}})
		require.NoError(t, err)

		_, err = s.Add(ctx, testQueue, queue.NewJob{ID: "ebook-dup", Data: payload{UserID: "b"}})
		require.ErrorIs(t, err, queue.ErrJobExists)

		got, err := s.Get(ctx, testQueue, "ebook-dup")
		require.NoError(t, err)
		var p payload
		require.NoError(t, got.Decode(&p))
		assert.Equal(t, "a", p.UserID)

		counts, err := s.Counts(ctx, testQueue)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Waiting)
	})

	t.Run("same id in different queues", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, "pdf-generation", queue.NewJob{ID: "shared", Data: payload{}})
		require.NoError(t, err)
		_, err = s.Add(ctx, "file-upload", queue.NewJob{ID: "shared", Data: payload{}})
		require.NoError(t, err)

		_, err = s.Get(ctx, testQueue, "shared")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("get missing job", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Get(ctx, testQueue, "ebook-doesnotexist")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("claim is fifo", func(t *testing.T) {
		s, clock := setup(t)

		for _, id := range []string{"a", "b"} {
			_, err := s.Add(ctx, testQueue, queue.NewJob{ID: id, Data: payload{}})
			require.NoError(t, err)
			clock.Advance(time.Millisecond)
		}

		first, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "a", first.ID)
		assert.Equal(t, queue.StateActive, first.State)
		assert.NotEmpty(t, first.Token)
		require.NotNil(t, first.ProcessedAt)

		second, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "b", second.ID)
		assert.NotEqual(t, first.Token, second.Token)

		none, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("concurrent claims hand a job to one consumer", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "only", Data: payload{}})
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				j, err := s.Claim(ctx, testQueue, lockTTL)
				if err == nil && j != nil {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, claimed)
	})

	t.Run("complete records result once", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "done", Data: payload{}})
		require.NoError(t, err)
		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)

		require.NoError(t, s.Complete(ctx, j, map[string]string{"url": "https://files/x.pdf"}))

		got, err := s.Get(ctx, testQueue, "done")
		require.NoError(t, err)
		assert.Equal(t, queue.StateCompleted, got.State)
		assert.Equal(t, 1, got.AttemptsMade)
		assert.JSONEq(t, `{"url":"https://files/x.pdf"}`, string(got.ReturnValue))
		assert.NotNil(t, got.FinishedAt)

		assert.ErrorIs(t, s.Complete(ctx, j, nil), queue.ErrLockLost)

		got, err = s.Get(ctx, testQueue, "done")
		require.NoError(t, err)
		assert.Equal(t, 1, got.AttemptsMade)
	})

	t.Run("stale token cannot complete", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "owned", Data: payload{}})
		require.NoError(t, err)
		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)

		forged := *j
		forged.Token = "someone-else"
		assert.ErrorIs(t, s.Complete(ctx, &forged, nil), queue.ErrLockLost)
		assert.ErrorIs(t, s.Fail(ctx, &forged, queue.Failure{Reason: "x", Kind: queue.FailureError}), queue.ErrLockLost)
		assert.ErrorIs(t, s.ExtendLock(ctx, &forged, lockTTL), queue.ErrLockLost)

		require.NoError(t, s.ExtendLock(ctx, j, lockTTL))
		require.NoError(t, s.Complete(ctx, j, nil))
	})

	t.Run("failures back off exponentially until attempts run out", func(t *testing.T) {
		s, clock := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{
			ID:          "flaky",
			Data:        payload{},
			MaxAttempts: 3,
			Backoff:     queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second},
		})
		require.NoError(t, err)

		for attempt := 1; attempt <= 2; attempt++ {
			j, err := s.Claim(ctx, testQueue, lockTTL)
			require.NoError(t, err)
			require.NotNil(t, j, "attempt %d", attempt)

			failedAt := clock.Now()
			require.NoError(t, s.Fail(ctx, j, queue.Failure{Reason: "upstream 503", Kind: queue.FailureError}))

			got, err := s.Get(ctx, testQueue, "flaky")
			require.NoError(t, err)
			assert.Equal(t, queue.StateDelayed, got.State)
			assert.Equal(t, attempt, got.AttemptsMade)
			assert.Equal(t, "upstream 503", got.FailedReason)
			wantDelay := time.Second << (attempt - 1)
			require.NotNil(t, got.RunAt)
			assert.WithinDuration(t, failedAt.Add(wantDelay), *got.RunAt, time.Millisecond)

			early, err := s.Claim(ctx, testQueue, lockTTL)
			require.NoError(t, err)
			assert.Nil(t, early, "retry must wait for its backoff")

			clock.Advance(wantDelay)
		}

		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		require.NotNil(t, j)
		require.NoError(t, s.Fail(ctx, j, queue.Failure{Reason: "still broken", Kind: queue.FailureError}))

		got, err := s.Get(ctx, testQueue, "flaky")
		require.NoError(t, err)
		assert.Equal(t, queue.StateFailed, got.State)
		assert.Equal(t, 3, got.AttemptsMade)
		assert.Equal(t, "still broken", got.FailedReason)
		assert.NotNil(t, got.FinishedAt)

		clock.Advance(time.Hour)
		none, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		assert.Nil(t, none, "no fourth attempt")
	})

	t.Run("success on third attempt", func(t *testing.T) {
		s, clock := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{
			ID:      "third-time",
			Data:    payload{},
			Backoff: queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second},
		})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			j, err := s.Claim(ctx, testQueue, lockTTL)
			require.NoError(t, err)
			require.NotNil(t, j)
			require.NoError(t, s.Fail(ctx, j, queue.Failure{Reason: "boom", Kind: queue.FailureError}))
			clock.Advance(time.Minute)
		}

		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		require.NotNil(t, j)
		require.NoError(t, s.Complete(ctx, j, "ok"))

		got, err := s.Get(ctx, testQueue, "third-time")
		require.NoError(t, err)
		assert.Equal(t, queue.StateCompleted, got.State)
		assert.Equal(t, 3, got.AttemptsMade)
		assert.Empty(t, got.FailedReason, "earlier failure is cleared")
		assert.Empty(t, got.FailureKind)
	})

	t.Run("unrecoverable failure is terminal", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "bad-payload", Data: payload{}})
		require.NoError(t, err)
		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)

		require.NoError(t, s.Fail(ctx, j, queue.Failure{Reason: "invalid payload", Kind: queue.FailureUnrecoverable}))

		got, err := s.Get(ctx, testQueue, "bad-payload")
		require.NoError(t, err)
		assert.Equal(t, queue.StateFailed, got.State)
		assert.Equal(t, 1, got.AttemptsMade)
		assert.Equal(t, queue.FailureUnrecoverable, got.FailureKind)
	})

	t.Run("retention keeps the most recent terminal jobs", func(t *testing.T) {
		clock := NewClock()
		s := newStore(t, clock, queue.Retention{KeepCompleted: 2, KeepFailed: 1})

		for _, id := range []string{"c1", "c2", "c3", "c4"} {
			_, err := s.Add(ctx, testQueue, queue.NewJob{ID: id, Data: payload{}})
			require.NoError(t, err)
			j, err := s.Claim(ctx, testQueue, lockTTL)
			require.NoError(t, err)
			require.NoError(t, s.Complete(ctx, j, nil))
			clock.Advance(time.Millisecond)
		}
		for _, id := range []string{"f1", "f2"} {
			_, err := s.Add(ctx, testQueue, queue.NewJob{ID: id, Data: payload{}, MaxAttempts: 1})
			require.NoError(t, err)
			j, err := s.Claim(ctx, testQueue, lockTTL)
			require.NoError(t, err)
			require.NoError(t, s.Fail(ctx, j, queue.Failure{Reason: "x", Kind: queue.FailureError}))
			clock.Advance(time.Millisecond)
		}

		for _, id := range []string{"c1", "c2", "f1"} {
			_, err := s.Get(ctx, testQueue, id)
			assert.ErrorIs(t, err, queue.ErrJobNotFound, id)
		}
		for _, id := range []string{"c3", "c4", "f2"} {
			_, err := s.Get(ctx, testQueue, id)
			assert.NoError(t, err, id)
		}

		counts, err := s.Counts(ctx, testQueue)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Completed)
		assert.Equal(t, int64(1), counts.Failed)
	})

	t.Run("progress is visible to readers", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "progress", Data: payload{}})
		require.NoError(t, err)
		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)

		require.NoError(t, s.UpdateProgress(ctx, j, 40))

		got, err := s.Get(ctx, testQueue, "progress")
		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress)
	})

	t.Run("delayed add waits for its run time", func(t *testing.T) {
		s, clock := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "later", Data: payload{}, Delay: 5 * time.Second})
		require.NoError(t, err)

		got, err := s.Get(ctx, testQueue, "later")
		require.NoError(t, err)
		assert.Equal(t, queue.StateDelayed, got.State)

		none, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		assert.Nil(t, none)

		clock.Advance(5 * time.Second)
		j, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, "later", j.ID)
	})

	// Lock expiry is driven by the fake clock in memory and on miniredis, and
	// by real TTLs on a server; expireLocks advances both.
	const shortTTL = 50 * time.Millisecond
	expireLocks := func(clock *Clock) {
		clock.Advance(time.Second)
		time.Sleep(3 * shortTTL)
	}

	t.Run("stalled jobs return to waiting", func(t *testing.T) {
		s, clock := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "stalled", Data: payload{}})
		require.NoError(t, err)

		j, err := s.Claim(ctx, testQueue, shortTTL)
		require.NoError(t, err)
		require.NotNil(t, j)

		expireLocks(clock)

		stalled, err := s.RecoverStalled(ctx, testQueue, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"stalled"}, stalled.Requeued)
		assert.Empty(t, stalled.Failed)

		got, err := s.Get(ctx, testQueue, "stalled")
		require.NoError(t, err)
		assert.Equal(t, queue.StateWaiting, got.State)
		assert.Equal(t, 1, got.StalledCount)

		again, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, "stalled", again.ID)

		assert.ErrorIs(t, s.Complete(ctx, j, nil), queue.ErrLockLost)
		require.NoError(t, s.Complete(ctx, again, nil))
	})

	t.Run("job stalled past the limit fails", func(t *testing.T) {
		s, clock := setup(t)

		_, err := s.Add(ctx, testQueue, queue.NewJob{ID: "crashy", Data: payload{}})
		require.NoError(t, err)

		// The first stall is forgiven, the second one is terminal.
		for cycle := 1; cycle <= 2; cycle++ {
			j, err := s.Claim(ctx, testQueue, shortTTL)
			require.NoError(t, err)
			require.NotNil(t, j, "cycle %d", cycle)

			expireLocks(clock)

			stalled, err := s.RecoverStalled(ctx, testQueue, 1)
			require.NoError(t, err)
			if cycle == 1 {
				assert.Equal(t, []string{"crashy"}, stalled.Requeued)
				assert.Empty(t, stalled.Failed)
			} else {
				assert.Empty(t, stalled.Requeued)
				assert.Equal(t, []string{"crashy"}, stalled.Failed)
			}
		}

		got, err := s.Get(ctx, testQueue, "crashy")
		require.NoError(t, err)
		assert.Equal(t, queue.StateFailed, got.State)
		assert.Equal(t, queue.FailureStalled, got.FailureKind)
		assert.Equal(t, queue.StalledReason, got.FailedReason)
		assert.Equal(t, 2, got.StalledCount)
		assert.NotNil(t, got.FinishedAt)

		none, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)
		assert.Nil(t, none)

		counts, err := s.Counts(ctx, testQueue)
		require.NoError(t, err)
		assert.Equal(t, queue.Counts{Failed: 1}, counts)

		stalled, err := s.RecoverStalled(ctx, testQueue, 1)
		require.NoError(t, err)
		assert.Equal(t, queue.Stalled{}, stalled, "a failed job is not swept again")
	})

	t.Run("stalled failures are trimmed like other failures", func(t *testing.T) {
		clock := NewClock()
		s := newStore(t, clock, queue.Retention{KeepCompleted: 5, KeepFailed: 1})

		for _, id := range []string{"s1", "s2"} {
			_, err := s.Add(ctx, testQueue, queue.NewJob{ID: id, Data: payload{}})
			require.NoError(t, err)
			_, err = s.Claim(ctx, testQueue, shortTTL)
			require.NoError(t, err)
			expireLocks(clock)

			stalled, err := s.RecoverStalled(ctx, testQueue, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{id}, stalled.Failed)
		}

		_, err := s.Get(ctx, testQueue, "s1")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
		got, err := s.Get(ctx, testQueue, "s2")
		require.NoError(t, err)
		assert.Equal(t, queue.StateFailed, got.State)
	})

	t.Run("counts by state", func(t *testing.T) {
		s, _ := setup(t)

		for _, id := range []string{"w1", "w2", "a1"} {
			_, err := s.Add(ctx, testQueue, queue.NewJob{ID: id, Data: payload{}})
			require.NoError(t, err)
		}
		_, err := s.Claim(ctx, testQueue, lockTTL)
		require.NoError(t, err)

		counts, err := s.Counts(ctx, testQueue)
		require.NoError(t, err)
		assert.Equal(t, queue.Counts{Waiting: 2, Active: 1}, counts)

		require.NoError(t, s.Ping(ctx))
	})
}
