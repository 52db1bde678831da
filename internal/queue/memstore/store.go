// Package memstore is an in-memory queue.Store. It is safe for concurrent use
// and mirrors the Redis backend's semantics; it backs unit tests and local
// development runs without a broker.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

var _ queue.Store = (*Store)(nil)

type lock struct {
	token   string
	expires time.Time
}

type memQueue struct {
	jobs      map[string]*queue.Job
	wait      []string
	active    map[string]lock
	completed []string
	failed    []string
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention sets the terminal-job retention for one queue.
func WithRetention(queueName string, r queue.Retention) Option {
	return func(s *Store) { s.retention[queueName] = r }
}

// Store is an in-memory queue.Store.
type Store struct {
	mu        sync.Mutex
	queues    map[string]*memQueue
	retention map[string]queue.Retention
	now       func() time.Time
	down      error
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		queues:    make(map[string]*memQueue),
		retention: make(map[string]queue.Retention),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetUnavailable makes every operation fail with err until called with nil.
// It simulates a broker outage.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = err
}

func (s *Store) q(name string) *memQueue {
	mq, ok := s.queues[name]
	if !ok {
		mq = &memQueue{
			jobs:   make(map[string]*queue.Job),
			active: make(map[string]lock),
		}
		s.queues[name] = mq
	}
	return mq
}

func (s *Store) retentionFor(name string) queue.Retention {
	if r, ok := s.retention[name]; ok {
		return r
	}
	return queue.DefaultRetention
}

// Add enqueues a job. A duplicate id returns queue.ErrJobExists.
func (s *Store) Add(_ context.Context, queueName string, nj queue.NewJob) (*queue.Job, error) {
	nj.Defaults()
	data, err := json.Marshal(nj.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return nil, s.down
	}

	mq := s.q(queueName)
	if _, exists := mq.jobs[nj.ID]; exists {
		return nil, queue.ErrJobExists
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
	if nj.Delay > 0 {
		at := now.Add(nj.Delay)
		j.State = queue.StateDelayed
		j.RunAt = &at
	} else {
		mq.wait = append(mq.wait, j.ID)
	}
	mq.jobs[j.ID] = j

	return clone(j), nil
}

// Claim hands the oldest waiting job to the caller.
func (s *Store) Claim(_ context.Context, queueName string, lockTTL time.Duration) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return nil, s.down
	}

	mq := s.q(queueName)
	now := s.now()
	s.promoteDelayed(mq, now)

	if len(mq.wait) == 0 {
		return nil, nil
	}
	id := mq.wait[0]
	mq.wait = mq.wait[1:]

	j := mq.jobs[id]
	j.State = queue.StateActive
	j.ProcessedAt = &now
	j.RunAt = nil

	token := uuid.NewString()
	mq.active[id] = lock{token: token, expires: now.Add(lockTTL)}

	c := clone(j)
	c.Token = token
	return c, nil
}

func (s *Store) promoteDelayed(mq *memQueue, now time.Time) {
	var due []*queue.Job
	for _, j := range mq.jobs {
		if j.State == queue.StateDelayed && j.RunAt != nil && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(*due[b].RunAt) })
	for _, j := range due {
		j.State = queue.StateWaiting
		mq.wait = append(mq.wait, j.ID)
	}
}

func (s *Store) owned(mq *memQueue, j *queue.Job) (*queue.Job, error) {
	l, ok := mq.active[j.ID]
	if !ok || l.token != j.Token {
		return nil, queue.ErrLockLost
	}
	stored, ok := mq.jobs[j.ID]
	if !ok || stored.State != queue.StateActive {
		return nil, queue.ErrLockLost
	}
	return stored, nil
}

// ExtendLock pushes the lock expiry of an owned active job.
func (s *Store) ExtendLock(_ context.Context, j *queue.Job, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}

	mq := s.q(j.Queue)
	if _, err := s.owned(mq, j); err != nil {
		return err
	}
	mq.active[j.ID] = lock{token: j.Token, expires: s.now().Add(ttl)}
	return nil
}

// UpdateProgress records a 0-100 progress value.
func (s *Store) UpdateProgress(_ context.Context, j *queue.Job, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}

	stored, err := s.owned(s.q(j.Queue), j)
	if err != nil {
		return err
	}
	stored.Progress = progress
	j.Progress = progress
	return nil
}

// Complete moves an owned active job to completed.
func (s *Store) Complete(_ context.Context, j *queue.Job, result any) error {
	rv, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}

	mq := s.q(j.Queue)
	stored, err := s.owned(mq, j)
	if err != nil {
		return err
	}

	now := s.now()
	stored.AttemptsMade++
	stored.State = queue.StateCompleted
	stored.ReturnValue = rv
	stored.FailedReason = ""
	stored.FailureKind = ""
	stored.FinishedAt = &now
	delete(mq.active, j.ID)

	mq.completed = append(mq.completed, j.ID)
	mq.completed = trim(mq, mq.completed, s.retentionFor(j.Queue).KeepCompleted)
	return nil
}

// Fail records a failed attempt and either schedules a retry or marks the
// job terminally failed.
func (s *Store) Fail(_ context.Context, j *queue.Job, f queue.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return s.down
	}

	mq := s.q(j.Queue)
	stored, err := s.owned(mq, j)
	if err != nil {
		return err
	}

	now := s.now()
	next := queue.NextAttempt(stored, f, now)

	stored.AttemptsMade++
	stored.FailedReason = f.Reason
	stored.FailureKind = f.Kind
	delete(mq.active, j.ID)

	if next != nil {
		stored.State = queue.StateDelayed
		stored.RunAt = next
		return nil
	}

	stored.State = queue.StateFailed
	stored.FinishedAt = &now
	mq.failed = append(mq.failed, j.ID)
	mq.failed = trim(mq, mq.failed, s.retentionFor(j.Queue).KeepFailed)
	return nil
}

// trim drops the oldest ids beyond keep and deletes their jobs.
func trim(mq *memQueue, ids []string, keep int) []string {
	if keep < 0 || len(ids) <= keep {
		return ids
	}
	drop := len(ids) - keep
	for _, id := range ids[:drop] {
		delete(mq.jobs, id)
	}
	return append([]string(nil), ids[drop:]...)
}

// Get returns a snapshot of a job.
func (s *Store) Get(_ context.Context, queueName, id string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return nil, s.down
	}

	j, ok := s.q(queueName).jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return clone(j), nil
}

// Counts returns per-state counts.
func (s *Store) Counts(_ context.Context, queueName string) (queue.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return queue.Counts{}, s.down
	}

	var c queue.Counts
	for _, j := range s.q(queueName).jobs {
		switch j.State {
		case queue.StateWaiting:
			c.Waiting++
		case queue.StateActive:
			c.Active++
		case queue.StateDelayed:
			c.Delayed++
		case queue.StateCompleted:
			c.Completed++
		case queue.StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

// RecoverStalled returns active jobs with an expired lock to the head of the
// wait list, or fails them once they stalled more than maxStalled times.
func (s *Store) RecoverStalled(_ context.Context, queueName string, maxStalled int) (queue.Stalled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down != nil {
		return queue.Stalled{}, s.down
	}

	mq := s.q(queueName)
	now := s.now()

	var expired []string
	for id, l := range mq.active {
		if !l.expires.After(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	var out queue.Stalled
	for _, id := range expired {
		delete(mq.active, id)
		j := mq.jobs[id]
		j.StalledCount++
		if j.StalledCount > maxStalled {
			j.State = queue.StateFailed
			j.FailedReason = queue.StalledReason
			j.FailureKind = queue.FailureStalled
			j.FinishedAt = &now
			mq.failed = append(mq.failed, id)
			out.Failed = append(out.Failed, id)
			continue
		}
		j.State = queue.StateWaiting
		out.Requeued = append(out.Requeued, id)
	}
	if len(out.Failed) > 0 {
		mq.failed = trim(mq, mq.failed, s.retentionFor(queueName).KeepFailed)
	}
	mq.wait = append(append([]string(nil), out.Requeued...), mq.wait...)
	return out, nil
}

// Ping reports the simulated availability.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func clone(j *queue.Job) *queue.Job {
	c := *j
	c.Data = append(json.RawMessage(nil), j.Data...)
	if j.ReturnValue != nil {
		c.ReturnValue = append(json.RawMessage(nil), j.ReturnValue...)
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.RunAt != nil {
		t := *j.RunAt
		c.RunAt = &t
	}
	return &c
}
