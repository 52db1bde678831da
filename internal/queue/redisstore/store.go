// Package redisstore implements queue.Store on Redis. Each queue owns a wait
// list, an active list and sorted sets for delayed, completed and failed
// jobs; job records are hashes and active jobs carry a lock key with a TTL.
// A queue's keys share a hash tag, so the store also runs against Redis
// Cluster.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithPrefix("ebook"))
//	if err := s.Ping(ctx); err != nil { ... }
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

var _ queue.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Defaults to "ebook".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRetention sets the terminal-job retention for one queue.
func WithRetention(queueName string, r queue.Retention) Option {
	return func(s *Store) { s.retention[queueName] = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements queue.Store backed by Redis. The caller owns the client
// lifecycle.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention map[string]queue.Retention
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Redis-backed store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    "ebook",
		retention: make(map[string]queue.Retention),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) retentionFor(name string) queue.Retention {
	if r, ok := s.retention[name]; ok {
		return r
	}
	return queue.DefaultRetention
}

// Add atomically creates a job. A duplicate id returns queue.ErrJobExists.
func (s *Store) Add(ctx context.Context, queueName string, nj queue.NewJob) (*queue.Job, error) {
	nj.Defaults()
	data, err := json.Marshal(nj.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}

	now := s.now()
	j := &queue.Job{
		ID:          nj.ID,
		Name:        nj.Name,
		Queue:       queueName,
		Data:        data,
		State:       queue.StateWaiting,
		MaxAttempts: nj.MaxAttempts,
		Backoff:     nj.Backoff,
		CreatedAt:   now,
	}

	var runAtMs int64
	if nj.Delay > 0 {
		at := now.Add(nj.Delay)
		j.State = queue.StateDelayed
		j.RunAt = &at
		runAtMs = at.UnixMilli()
	}

	k := s.keys(queueName)
	args := []interface{}{j.ID, runAtMs}
	args = append(args, jobToArgs(j)...)

	created, err := addScript.Run(ctx, s.client, []string{k.job(j.ID), k.wait, k.delayed}, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to add job: %w", err)
	}
	if created == 0 {
		return nil, queue.ErrJobExists
	}

	s.logger.Debug("Job added",
		slog.String("queue", queueName),
		slog.String("job_id", j.ID),
		slog.String("state", string(j.State)),
	)
	return j, nil
}

// Claim moves the oldest waiting job to active and returns it with its lock
// token. It returns nil, nil when the queue has nothing to run.
func (s *Store) Claim(ctx context.Context, queueName string, lockTTL time.Duration) (*queue.Job, error) {
	k := s.keys(queueName)
	token := uuid.NewString()

	res, err := claimScript.Run(ctx, s.client,
		[]string{k.wait, k.active, k.delayed},
		s.now().UnixMilli(), token, lockTTL.Milliseconds(), k.base,
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	j, err := mapToJob(pairsToMap(res))
	if err != nil {
		return nil, err
	}
	j.Token = token
	return j, nil
}

// ExtendLock refreshes the TTL of an owned job's lock.
func (s *Store) ExtendLock(ctx context.Context, j *queue.Job, ttl time.Duration) error {
	k := s.keys(j.Queue)
	ok, err := extendLockScript.Run(ctx, s.client, []string{k.lock(j.ID)}, j.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend job lock: %w", err)
	}
	if ok == 0 {
		return queue.ErrLockLost
	}
	return nil
}

// UpdateProgress records a 0-100 progress value on an owned job.
func (s *Store) UpdateProgress(ctx context.Context, j *queue.Job, progress int) error {
	k := s.keys(j.Queue)
	ok, err := progressScript.Run(ctx, s.client, []string{k.lock(j.ID), k.job(j.ID)}, j.Token, progress).Int()
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if ok == 0 {
		return queue.ErrLockLost
	}
	j.Progress = progress
	return nil
}

// Complete moves an owned active job to completed.
func (s *Store) Complete(ctx context.Context, j *queue.Job, result any) error {
	rv, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	k := s.keys(j.Queue)
	res, err := completeScript.Run(ctx, s.client,
		[]string{k.job(j.ID), k.active, k.completed, k.lock(j.ID)},
		j.ID, j.Token, string(rv), s.now().UnixMilli(), s.retentionFor(j.Queue).KeepCompleted, k.base,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if res < 0 {
		return queue.ErrLockLost
	}
	return nil
}

// Fail records a failed attempt. While attempts remain and the failure is
// retryable the job is delayed by its backoff; otherwise it is terminal.
func (s *Store) Fail(ctx context.Context, j *queue.Job, f queue.Failure) error {
	now := s.now()

	var retryAtMs int64
	if next := queue.NextAttempt(j, f, now); next != nil {
		retryAtMs = next.UnixMilli()
	}

	k := s.keys(j.Queue)
	res, err := failScript.Run(ctx, s.client,
		[]string{k.job(j.ID), k.active, k.failed, k.delayed, k.lock(j.ID)},
		j.ID, j.Token, f.Reason, string(f.Kind), now.UnixMilli(), retryAtMs,
		s.retentionFor(j.Queue).KeepFailed, k.base,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if res < 0 {
		return queue.ErrLockLost
	}
	return nil
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, queueName, id string) (*queue.Job, error) {
	vals, err := s.client.HGetAll(ctx, s.keys(queueName).job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return mapToJob(vals)
}

// Counts returns per-state counts for a queue.
func (s *Store) Counts(ctx context.Context, queueName string) (queue.Counts, error) {
	k := s.keys(queueName)

	pipe := s.client.Pipeline()
	waiting := pipe.LLen(ctx, k.wait)
	active := pipe.LLen(ctx, k.active)
	delayed := pipe.ZCard(ctx, k.delayed)
	completed := pipe.ZCard(ctx, k.completed)
	failed := pipe.ZCard(ctx, k.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Counts{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	return queue.Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// RecoverStalled requeues active jobs whose lock expired, failing those that
// stalled more than maxStalled times.
func (s *Store) RecoverStalled(ctx context.Context, queueName string, maxStalled int) (queue.Stalled, error) {
	k := s.keys(queueName)
	res, err := recoverScript.Run(ctx, s.client,
		[]string{k.active, k.wait, k.failed},
		k.base, maxStalled, s.now().UnixMilli(), s.retentionFor(queueName).KeepFailed, queue.StalledReason,
	).Slice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return queue.Stalled{}, fmt.Errorf("failed to recover stalled jobs: %w", err)
	}

	var out queue.Stalled
	if len(res) == 2 {
		out.Requeued = toStrings(res[0])
		out.Failed = toStrings(res[1])
	}
	for _, id := range out.Requeued {
		s.logger.Warn("Recovered stalled job",
			slog.String("queue", queueName),
			slog.String("job_id", id),
		)
	}
	for _, id := range out.Failed {
		s.logger.Warn("Stalled job exceeded limit",
			slog.String("queue", queueName),
			slog.String("job_id", id),
			slog.Int("max_stalled", maxStalled),
		)
	}
	return out, nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func pairsToMap(flat []interface{}) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		m[k] = v
	}
	return m
}

func toStrings(v interface{}) []string {
	items, _ := v.([]interface{})
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if id, ok := it.(string); ok {
			out = append(out, id)
		}
	}
	return out
}

func jobToArgs(j *queue.Job) []interface{} {
	args := []interface{}{
		"id", j.ID,
		"name", j.Name,
		"queue", j.Queue,
		"data", string(j.Data),
		"state", string(j.State),
		"attemptsMade", j.AttemptsMade,
		"maxAttempts", j.MaxAttempts,
		"backoffType", string(j.Backoff.Type),
		"backoffDelay", j.Backoff.Delay.Milliseconds(),
		"backoffMax", j.Backoff.Max.Milliseconds(),
		"progress", j.Progress,
		"timestamp", j.CreatedAt.UnixMilli(),
	}
	if j.RunAt != nil {
		args = append(args, "delayUntil", j.RunAt.UnixMilli())
	}
	return args
}

func mapToJob(m map[string]string) (*queue.Job, error) {
	if m["id"] == "" {
		return nil, fmt.Errorf("failed to decode job: missing id")
	}

	attempts, _ := strconv.Atoi(m["attemptsMade"])
	maxAttempts, _ := strconv.Atoi(m["maxAttempts"])
	progress, _ := strconv.Atoi(m["progress"])
	stalled, _ := strconv.Atoi(m["stalledCounter"])
	delayMs, _ := strconv.ParseInt(m["backoffDelay"], 10, 64)
	maxMs, _ := strconv.ParseInt(m["backoffMax"], 10, 64)

	j := &queue.Job{
		ID:           m["id"],
		Name:         m["name"],
		Queue:        m["queue"],
		Data:         json.RawMessage(m["data"]),
		State:        queue.State(m["state"]),
		AttemptsMade: attempts,
		MaxAttempts:  maxAttempts,
		Backoff: queue.Backoff{
			Type:  queue.BackoffType(m["backoffType"]),
			Delay: time.Duration(delayMs) * time.Millisecond,
			Max:   time.Duration(maxMs) * time.Millisecond,
		},
		Progress:     progress,
		StalledCount: stalled,
		FailedReason: m["failedReason"],
		FailureKind:  queue.FailureKind(m["failureKind"]),
		CreatedAt:    msToTime(m["timestamp"]),
		ProcessedAt:  msToTimePtr(m["processedOn"]),
		FinishedAt:   msToTimePtr(m["finishedOn"]),
		RunAt:        msToTimePtr(m["delayUntil"]),
	}
	if rv := m["returnvalue"]; rv != "" {
		j.ReturnValue = json.RawMessage(rv)
	}
	return j, nil
}

func msToTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msToTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := msToTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}
