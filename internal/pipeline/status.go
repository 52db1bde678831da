package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// Overall pipeline states reported by Pipeline.
const (
	PipelineQueued     = "queued"
	PipelineProcessing = "processing"
	PipelineCompleted  = "completed"
	PipelineFailed     = "failed"
)

// StatusRecord is the client view of one job.
type StatusRecord struct {
	ID           string            `json:"id"`
	Status       queue.State       `json:"status"`
	Queue        string            `json:"queue"`
	Stage        Stage             `json:"stage"`
	Progress     int               `json:"progress"`
	Data         json.RawMessage   `json:"data"`
	Result       json.RawMessage   `json:"result"`
	Error        *string           `json:"error"`
	FailureKind  queue.FailureKind `json:"failureKind,omitempty"`
	AttemptsMade int               `json:"attemptsMade"`
	MaxAttempts  int               `json:"maxAttempts"`
	CreatedAt    time.Time         `json:"createdAt"`
	ProcessedAt  *time.Time        `json:"processedAt"`
	FinishedAt   *time.Time        `json:"finishedAt"`
}

// PipelineView is every stage of one request.
type PipelineView struct {
	RequestID string         `json:"requestId"`
	Status    string         `json:"status"`
	Stages    []StatusRecord `json:"stages"`
	File      *UploadResult  `json:"file,omitempty"`
}

// StatusService answers status queries from the queue store alone.
type StatusService struct {
	store queue.Store
}

// NewStatusService creates a status service reading from store.
func NewStatusService(store queue.Store) *StatusService {
	return &StatusService{store: store}
}

type candidate struct {
	stage Stage
	id    string
}

// candidates lists where to look for id, in order. A content id is looked up
// verbatim and then with its prefix swapped for each later stage. A render
// or upload id is looked up in its own queue first. Any other id is looked
// up verbatim in every queue.
func candidates(id string) []candidate {
	stage, rid, ok := ParseJobID(id)
	if !ok {
		ps := make([]candidate, 0, len(stages))
		for _, d := range stages {
			ps = append(ps, candidate{stage: d.Stage, id: id})
		}
		return ps
	}

	ps := []candidate{{stage: stage, id: id}}
	for _, d := range stages {
		if d.Stage != stage {
			ps = append(ps, candidate{stage: d.Stage, id: JobID(d.Stage, rid)})
		}
	}
	return ps
}

// Lookup returns the first job matching id across the stage queues.
func (s *StatusService) Lookup(ctx context.Context, id string) (*StatusRecord, error) {
	for _, p := range candidates(id) {
		j, err := s.store.Get(ctx, p.stage.Queue(), p.id)
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get job: %v", ErrQueueUnavailable, err)
		}
		return newStatusRecord(p.stage, j), nil
	}
	return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
}

// Pipeline returns the records of every stage of requestID together with an
// overall state.
func (s *StatusService) Pipeline(ctx context.Context, requestID string) (*PipelineView, error) {
	view := &PipelineView{RequestID: requestID}
	for _, d := range stages {
		j, err := s.store.Get(ctx, d.Queue, JobID(d.Stage, requestID))
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get job: %v", ErrQueueUnavailable, err)
		}
		view.Stages = append(view.Stages, *newStatusRecord(d.Stage, j))
	}
	if len(view.Stages) == 0 {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, requestID)
	}

	view.Status = overallStatus(view.Stages)
	if view.Status == PipelineCompleted {
		last := view.Stages[len(view.Stages)-1]
		var res UploadResult
		if err := json.Unmarshal(last.Result, &res); err == nil {
			view.File = &res
		}
	}
	return view, nil
}

func overallStatus(records []StatusRecord) string {
	for _, r := range records {
		if r.Status == queue.StateFailed {
			return PipelineFailed
		}
	}
	last := records[len(records)-1]
	if last.Stage == StageUpload && last.Status == queue.StateCompleted {
		return PipelineCompleted
	}
	if len(records) == 1 && last.Stage == StageContent && last.Status == queue.StateWaiting {
		return PipelineQueued
	}
	return PipelineProcessing
}

func newStatusRecord(stage Stage, j *queue.Job) *StatusRecord {
	r := &StatusRecord{
		ID:           j.ID,
		Status:       j.State,
		Queue:        j.Queue,
		Stage:        stage,
		Progress:     j.Progress,
		Data:         j.Data,
		Result:       j.ReturnValue,
		FailureKind:  j.FailureKind,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		CreatedAt:    j.CreatedAt,
		ProcessedAt:  j.ProcessedAt,
		FinishedAt:   j.FinishedAt,
	}
	if j.FailedReason != "" {
		reason := j.FailedReason
		r.Error = &reason
	}
	if stage == StageUpload {
		r.Data = elideBuffer(j.Data)
	}
	return r
}

// elideBuffer replaces the PDF bytes of an upload payload with their size.
func elideBuffer(data json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	raw, ok := fields["pdfBuffer"]
	if !ok {
		return data
	}

	var buf []byte
	_ = json.Unmarshal(raw, &buf)
	delete(fields, "pdfBuffer")
	fields["pdfSize"] = json.RawMessage(fmt.Sprintf("%d", len(buf)))

	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}
