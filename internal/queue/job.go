// Package queue defines the durable job model shared by the producer, the
// stage workers and the status service, together with the Store contract
// every broker backend implements.
package queue

import (
	"encoding/json"
	"time"
)

// State is a job's lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind classifies why an attempt failed.
type FailureKind string

const (
	FailureError         FailureKind = "error"
	FailureTimeout       FailureKind = "timeout"
	FailureUnrecoverable FailureKind = "unrecoverable"
	FailureStalled       FailureKind = "stalled"
)

// StalledReason is the failed reason of a job that lost its lock more times
// than the stalled limit allows.
const StalledReason = "job stalled more than allowable limit"

// Job is a unit of work held by exactly one queue.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Queue        string          `json:"queue"`
	Data         json.RawMessage `json:"data"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      Backoff         `json:"backoff"`
	Progress     int             `json:"progress"`
	StalledCount int             `json:"stalledCounter"`
	ReturnValue  json.RawMessage `json:"returnvalue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	FailureKind  FailureKind     `json:"failureKind,omitempty"`
	CreatedAt    time.Time       `json:"timestamp"`
	ProcessedAt  *time.Time      `json:"processedOn,omitempty"`
	FinishedAt   *time.Time      `json:"finishedOn,omitempty"`
	RunAt        *time.Time      `json:"delayUntil,omitempty"`

	// Token identifies the consumer holding an active job. It is only set on
	// jobs returned by Claim.
	Token string `json:"-"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// NewJob describes a job to enqueue.
type NewJob struct {
	ID          string
	Name        string
	Data        any
	MaxAttempts int
	Backoff     Backoff
	Delay       time.Duration
}

// Retention bounds how many terminal jobs a queue keeps.
type Retention struct {
	KeepCompleted int
	KeepFailed    int
}

// DefaultRetention keeps the last 5 completed and last 3 failed jobs.
var DefaultRetention = Retention{KeepCompleted: 5, KeepFailed: 3}

// Failure is the outcome of an unsuccessful attempt.
type Failure struct {
	Reason string
	Kind   FailureKind
}

// Retryable reports whether the failure may be retried under the job's policy.
func (f Failure) Retryable() bool {
	return f.Kind != FailureUnrecoverable
}

// Counts holds per-state job counts for one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stalled is the outcome of one stalled-job sweep.
type Stalled struct {
	// Requeued jobs went back to the head of the wait list.
	Requeued []string
	// Failed jobs exceeded the stalled limit and are terminally failed.
	Failed []string
}

// NextAttempt decides what Fail does with a job: it returns the time of the
// next attempt, or nil when the failure is terminal.
func NextAttempt(j *Job, f Failure, now time.Time) *time.Time {
	if !f.Retryable() {
		return nil
	}
	made := j.AttemptsMade + 1
	if made >= j.MaxAttempts {
		return nil
	}
	at := now.Add(j.Backoff.Wait(made))
	return &at
}
