package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when no job with the given id exists in the queue
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned by Add when the id is already taken in the queue
	ErrJobExists = errors.New("job already exists")

	// ErrLockLost is returned when the caller no longer owns an active job
	ErrLockLost = errors.New("job lock lost or job not active")
)

// Store is a durable broker holding named queues of jobs.
//
// Implementations guarantee that Add is atomic per job, that a job is handed
// to at most one consumer at a time, and that Complete and Fail are applied
// only by the consumer whose token currently owns the job.
//
// RecoverStalled sweeps active jobs whose lock expired. Each sweep bumps the
// job's stalled counter; a job stalled more than maxStalled times is failed
// with FailureStalled, otherwise it returns to the head of the wait list.
type Store interface {
	Add(ctx context.Context, queue string, nj NewJob) (*Job, error)
	Claim(ctx context.Context, queue string, lockTTL time.Duration) (*Job, error)
	ExtendLock(ctx context.Context, j *Job, ttl time.Duration) error
	UpdateProgress(ctx context.Context, j *Job, progress int) error
	Complete(ctx context.Context, j *Job, result any) error
	Fail(ctx context.Context, j *Job, f Failure) error
	Get(ctx context.Context, queue, id string) (*Job, error)
	Counts(ctx context.Context, queue string) (Counts, error)
	RecoverStalled(ctx context.Context, queue string, maxStalled int) (Stalled, error)
	Ping(ctx context.Context) error
}

// Defaults fills unset policy fields on nj.
func (nj *NewJob) Defaults() {
	if nj.MaxAttempts <= 0 {
		nj.MaxAttempts = 3
	}
	if nj.Backoff.Delay <= 0 {
		nj.Backoff = DefaultBackoff
	}
	if nj.Backoff.Type == "" {
		nj.Backoff.Type = BackoffExponential
	}
	if nj.Name == "" {
		nj.Name = "default"
	}
}
