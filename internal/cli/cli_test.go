package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/memstore"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/logger"
)

type harness struct {
	store  *memstore.Store
	watch  WatchFunc
	closed int
	path   string
}

func newHarness() *harness {
	return &harness{store: memstore.New()}
}

func (h *harness) opener() Opener {
	return func(_ context.Context, path string) (*Services, func() error, error) {
		h.path = path
		log := logger.NewDiscard().Logger
		return &Services{
				Producer: pipeline.NewProducer(h.store, pipeline.DefaultPolicies(), log),
				Status:   pipeline.NewStatusService(h.store),
				Health:   pipeline.NewHealthService(h.store, nil, nil),
				Watch:    h.watch,
			}, func() error {
				h.closed++
				return nil
			}, nil
	}
}

func (h *harness) run(args ...string) (string, error) {
	root, release := NewRootCommand(h.opener(), "configs/default.yaml")
	defer func() { _ = release() }()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueue(t *testing.T) {
	h := newHarness()

	out, err := h.run("enqueue", "--user", "u1", "--title", "Guia X", "--category", "Tecnologia", "--chapters", "2")
	require.NoError(t, err)

	var sub pipeline.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	assert.Equal(t, "ebook-"+sub.RequestID, sub.JobID)
	assert.Equal(t, pipeline.StatusQueued, sub.Status)
	assert.Equal(t, "configs/default.yaml", h.path)
	assert.Equal(t, 1, h.closed)

	j, err := h.store.Get(context.Background(), "content-generation", sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, j.State)
}

func TestEnqueue_Validation(t *testing.T) {
	h := newHarness()

	_, err := h.run("enqueue", "--user", "u1", "--category", "Tecnologia")
	assert.ErrorIs(t, err, pipeline.ErrValidation)
	assert.Equal(t, 1, h.closed)

	counts, err := h.store.Counts(context.Background(), "content-generation")
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestStatusAndPipeline(t *testing.T) {
	h := newHarness()

	out, err := h.run("enqueue", "--user", "u1", "--title", "Guia X", "--category", "Tecnologia")
	require.NoError(t, err)
	var sub pipeline.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))

	out, err = h.run("status", sub.JobID)
	require.NoError(t, err)
	var rec pipeline.StatusRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, sub.JobID, rec.ID)
	assert.Equal(t, "content-generation", rec.Queue)

	out, err = h.run("pipeline", sub.RequestID)
	require.NoError(t, err)
	var view pipeline.PipelineView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, pipeline.PipelineQueued, view.Status)
	assert.Len(t, view.Stages, 1)
}

func TestStatus_Errors(t *testing.T) {
	h := newHarness()

	_, err := h.run("status", "ebook-req_missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	_, err = h.run("status")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := newHarness()

	out, err := h.run("health")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "healthy"`)

	h.store.SetUnavailable(errors.New("connection refused"))
	out, err = h.run("health")
	assert.ErrorIs(t, err, ErrUnhealthy)
	assert.Contains(t, out, `"status": "unhealthy"`)
}

func TestWatch(t *testing.T) {
	h := newHarness()

	_, err := h.run("watch")
	assert.ErrorContains(t, err, "disabled")

	var gotKeys []string
	h.watch = func(_ context.Context, keys []string, fn func(events.Event)) error {
		gotKeys = keys
		fn(events.Event{
			Queue:     "pdf-generation",
			JobID:     "pdf-req_1",
			State:     events.StateRetrying,
			Attempt:   2,
			Error:     "boom",
			Timestamp: time.Date(2025, 3, 1, 12, 30, 5, 0, time.UTC),
		})
		return nil
	}

	out, err := h.run("watch", "--stage", "render")
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf-generation.*"}, gotKeys)
	assert.Contains(t, out, "12:30:05 render  retrying")
	assert.Contains(t, out, "pdf-req_1 attempt=2 error=boom")
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "content", stageLabel("content-generation"))
	assert.Equal(t, "upload", stageLabel("file-upload"))
	assert.Equal(t, "audit-log", stageLabel("audit-log"))
}

func TestBindingKeys(t *testing.T) {
	tests := []struct {
		name    string
		stages  []string
		want    []string
		wantErr bool
	}{
		{name: "all events", stages: nil, want: []string{"#"}},
		{name: "one stage", stages: []string{"content"}, want: []string{"content-generation.*"}},
		{name: "two stages", stages: []string{"render", "upload"}, want: []string{"pdf-generation.*", "file-upload.*"}},
		{name: "unknown stage", stages: []string{"publish"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bindingKeys(tt.stages)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
