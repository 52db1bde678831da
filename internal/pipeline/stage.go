// Package pipeline wires the three ebook stages together: the stage table
// mapping each stage to its job-id prefix and queue, the job payloads, the
// chaining functions that turn one stage's result into the next stage's job,
// the producer, the status service and the stage handlers run by workers.
package pipeline

import (
	"strings"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// Stage is one phase of the pipeline.
type Stage string

const (
	StageContent Stage = "content"
	StageRender  Stage = "render"
	StageUpload  Stage = "upload"
)

// Definition is a row of the stage table.
type Definition struct {
	Stage       Stage
	Prefix      string
	Queue       string
	JobName     string
	Concurrency int
}

// stages is the only place the prefix and queue conventions are spelled
// out. Order is pipeline order.
var stages = []Definition{
	{Stage: StageContent, Prefix: "ebook-", Queue: "content-generation", JobName: "generate-content", Concurrency: 3},
	{Stage: StageRender, Prefix: "pdf-", Queue: "pdf-generation", JobName: "generate-pdf", Concurrency: 5},
	{Stage: StageUpload, Prefix: "upload-", Queue: "file-upload", JobName: "upload-file", Concurrency: 8},
}

// Stages returns the stage table in pipeline order.
func Stages() []Definition {
	return append([]Definition(nil), stages...)
}

// Queues returns the queue names in pipeline order.
func Queues() []string {
	names := make([]string, len(stages))
	for i, d := range stages {
		names[i] = d.Queue
	}
	return names
}

func (s Stage) def() Definition {
	for _, d := range stages {
		if d.Stage == s {
			return d
		}
	}
	panic("pipeline: unknown stage " + string(s))
}

// Prefix returns the job-id prefix of the stage.
func (s Stage) Prefix() string { return s.def().Prefix }

// Queue returns the queue the stage consumes.
func (s Stage) Queue() string { return s.def().Queue }

// JobName returns the name given to the stage's jobs.
func (s Stage) JobName() string { return s.def().JobName }

// Valid reports whether s is in the stage table.
func (s Stage) Valid() bool {
	for _, d := range stages {
		if d.Stage == s {
			return true
		}
	}
	return false
}

// Next returns the stage that follows s, if any.
func (s Stage) Next() (Stage, bool) {
	for i, d := range stages {
		if d.Stage == s && i+1 < len(stages) {
			return stages[i+1].Stage, true
		}
	}
	return "", false
}

// JobID returns the id of the stage's job for a request.
func JobID(s Stage, requestID string) string {
	return s.Prefix() + requestID
}

// ParseJobID splits a job id into its stage and request id.
func ParseJobID(id string) (Stage, string, bool) {
	for _, d := range stages {
		if rid, ok := strings.CutPrefix(id, d.Prefix); ok && rid != "" {
			return d.Stage, rid, true
		}
	}
	return "", "", false
}

// StageForQueue returns the stage consuming the named queue.
func StageForQueue(name string) (Stage, bool) {
	for _, d := range stages {
		if d.Queue == name {
			return d.Stage, true
		}
	}
	return "", false
}

// Policy is the retry, retention and sizing policy of one stage.
type Policy struct {
	MaxAttempts int
	Backoff     queue.Backoff
	Retention   queue.Retention
	Timeout     time.Duration
	Concurrency int
}

// Policies holds a policy per stage.
type Policies map[Stage]Policy

// DefaultPolicies are 3 attempts with exponential backoff from 2s, keeping
// the last 5 completed and 3 failed jobs, at the table's concurrency.
func DefaultPolicies() Policies {
	timeouts := map[Stage]time.Duration{
		StageContent: 5 * time.Minute,
		StageRender:  2 * time.Minute,
		StageUpload:  time.Minute,
	}
	p := make(Policies, len(stages))
	for _, d := range stages {
		p[d.Stage] = Policy{
			MaxAttempts: 3,
			Backoff:     queue.DefaultBackoff,
			Retention:   queue.DefaultRetention,
			Timeout:     timeouts[d.Stage],
			Concurrency: d.Concurrency,
		}
	}
	return p
}

// PoliciesFromConfig builds stage policies from configuration, falling back
// to the defaults for unset fields.
func PoliciesFromConfig(cfg config.StagesConfig) Policies {
	p := DefaultPolicies()
	for _, d := range stages {
		sc, ok := cfg.ByName(string(d.Stage))
		if !ok {
			continue
		}
		pol := p[d.Stage]
		if sc.Concurrency > 0 {
			pol.Concurrency = sc.Concurrency
		}
		if sc.Attempts > 0 {
			pol.MaxAttempts = sc.Attempts
		}
		if sc.Backoff.Delay > 0 {
			pol.Backoff = queue.Backoff{
				Type:  queue.BackoffType(sc.Backoff.Type),
				Delay: sc.Backoff.Delay,
				Max:   sc.Backoff.Max,
			}
			if pol.Backoff.Type == "" {
				pol.Backoff.Type = queue.BackoffExponential
			}
		}
		if sc.KeepCompleted > 0 {
			pol.Retention.KeepCompleted = sc.KeepCompleted
		}
		if sc.KeepFailed > 0 {
			pol.Retention.KeepFailed = sc.KeepFailed
		}
		if sc.Timeout > 0 {
			pol.Timeout = sc.Timeout
		}
		p[d.Stage] = pol
	}
	return p
}

// For returns the policy of s, or the default one when unset.
func (p Policies) For(s Stage) Policy {
	if pol, ok := p[s]; ok {
		return pol
	}
	return DefaultPolicies()[s]
}

// NewJob builds the job for stage s of a request under the stage policy.
func (p Policies) NewJob(s Stage, requestID string, data any) queue.NewJob {
	pol := p.For(s)
	return queue.NewJob{
		ID:          JobID(s, requestID),
		Name:        s.JobName(),
		Data:        data,
		MaxAttempts: pol.MaxAttempts,
		Backoff:     pol.Backoff,
	}
}
