package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/memstore"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/logger"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type testPipeline struct {
	store     *memstore.Store
	producer  *Producer
	status    *StatusService
	generator *fakeGenerator
	uploader  *fakeUploader
	recorder  *events.Recorder
	policies  Policies
}

func newTestPipeline(t *testing.T, generator *fakeGenerator) *testPipeline {
	t.Helper()

	policies := DefaultPolicies()
	for s, p := range policies {
		p.Backoff = queue.Backoff{Type: queue.BackoffFixed, Delay: time.Millisecond}
		p.Timeout = time.Second
		policies[s] = p
	}

	store := memstore.New()
	recorder := &events.Recorder{}
	log := logger.NewDiscard().Logger

	return &testPipeline{
		store:     store,
		producer:  NewProducer(store, policies, log, WithProducerEvents(recorder)),
		status:    NewStatusService(store),
		generator: generator,
		uploader:  &fakeUploader{},
		recorder:  recorder,
		policies:  policies,
	}
}

// start runs the three stage workers until the test ends.
func (p *testPipeline) start(t *testing.T) {
	t.Helper()

	workers := NewWorkers(p.store, Capabilities{
		Content:  p.generator,
		Renderer: fakeRenderer{},
		Uploader: p.uploader,
	}, p.policies, WorkerOptions{
		Logger:          logger.NewDiscard().Logger,
		Events:          p.recorder,
		LockDuration:    time.Second,
		PollInterval:    tick,
		StalledInterval: time.Second,
	})
	require.Len(t, workers, 3)

	ctx, cancel := context.WithCancel(context.Background())
	for _, w := range workers {
		go func() { _ = w.Start(ctx) }()
	}
	t.Cleanup(func() {
		cancel()
		for _, w := range workers {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
			_ = w.Stop(stopCtx)
			stopCancel()
		}
	})
}

func (p *testPipeline) submit(t *testing.T) *Submission {
	t.Helper()
	sub, err := p.producer.Submit(context.Background(), GenerateRequest{
		UserID:    "u1",
		EbookData: &ebook.Request{Titulo: "Guia X", Categoria: "Saúde"},
	})
	require.NoError(t, err)
	return sub
}

func (p *testPipeline) waitTerminal(t *testing.T, queueName, id string) *queue.Job {
	t.Helper()
	var j *queue.Job
	require.Eventually(t, func() bool {
		got, err := p.store.Get(context.Background(), queueName, id)
		if err != nil {
			return false
		}
		j = got
		return got.State.IsTerminal()
	}, waitFor, tick, "job %s never reached a terminal state", id)
	return j
}

func totalJobs(t *testing.T, store queue.Store, queueName string) int64 {
	t.Helper()
	c, err := store.Counts(context.Background(), queueName)
	require.NoError(t, err)
	return c.Waiting + c.Active + c.Delayed + c.Completed + c.Failed
}

func TestPipeline_ConcreteScenario(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{})
	ctx := context.Background()

	sub := p.submit(t)
	require.Regexp(t, `^ebook-req_\d+_[0-9a-z]{9}$`, sub.JobID)

	rec, err := p.status.Lookup(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Contains(t, []queue.State{queue.StateWaiting, queue.StateActive}, rec.Status)
	assert.Equal(t, "content-generation", rec.Queue)

	p.start(t)
	uploadID := JobID(StageUpload, sub.RequestID)
	final := p.waitTerminal(t, "file-upload", uploadID)
	require.Equal(t, queue.StateCompleted, final.State)

	rec, err = p.status.Lookup(ctx, uploadID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, rec.Status)
	assert.Equal(t, "file-upload", rec.Queue)
	require.NotNil(t, rec.Result)

	var result UploadResult
	require.NoError(t, json.Unmarshal(rec.Result, &result))
	assert.Equal(t, "file-"+sub.RequestID, result.FileID)
	assert.Equal(t, "http://localhost:3000/api/ebooks/files/file-"+sub.RequestID, result.URL)
	assert.Equal(t, sub.RequestID, result.RequestID)

	// The original id still resolves through its own queue first.
	rec, err = p.status.Lookup(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, "content-generation", rec.Queue)
	assert.Equal(t, queue.StateCompleted, rec.Status)

	view, err := p.status.Pipeline(ctx, sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, PipelineCompleted, view.Status)
	assert.Len(t, view.Stages, 3)
	require.NotNil(t, view.File)
	assert.Equal(t, result.FileID, view.File.FileID)
}

func TestPipeline_ChainsExactlyOneJobPerStage(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{})
	ctx := context.Background()
	p.start(t)

	subs := []*Submission{p.submit(t), p.submit(t), p.submit(t)}
	for _, sub := range subs {
		p.waitTerminal(t, "file-upload", JobID(StageUpload, sub.RequestID))
	}

	for _, sub := range subs {
		render, err := p.store.Get(ctx, "pdf-generation", "pdf-"+sub.RequestID)
		require.NoError(t, err)
		var rp RenderPayload
		require.NoError(t, render.Decode(&rp))
		assert.Equal(t, sub.RequestID, rp.RequestID)
		assert.Equal(t, "u1", rp.UserID)

		upload, err := p.store.Get(ctx, "file-upload", "upload-"+sub.RequestID)
		require.NoError(t, err)
		var up UploadPayload
		require.NoError(t, upload.Decode(&up))
		assert.Equal(t, sub.RequestID, up.RequestID)
	}

	assert.Equal(t, int64(3), totalJobs(t, p.store, "pdf-generation"))
	assert.Equal(t, int64(3), totalJobs(t, p.store, "file-upload"))
	assert.Equal(t, 3, p.uploader.count())
}

func TestPipeline_DuplicateCompletionEnqueuesOnce(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{})
	ctx := context.Background()
	sub := p.submit(t)

	j, err := p.store.Claim(ctx, "content-generation", time.Second)
	require.NoError(t, err)
	require.NotNil(t, j)

	out, err := NewContentHandler(p.generator, p.policies).Handle(ctx, j, noProgress)
	require.NoError(t, err)

	// Deliver the same completion twice.
	for i := 0; i < 2; i++ {
		_, err := p.store.Add(ctx, out.Next.Queue, out.Next.Job)
		if i == 0 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, queue.ErrJobExists)
		}
	}
	require.NoError(t, p.store.Complete(ctx, j, out.Result))
	require.ErrorIs(t, p.store.Complete(ctx, j, out.Result), queue.ErrLockLost)

	assert.Equal(t, int64(1), totalJobs(t, p.store, "pdf-generation"))
	rec, err := p.status.Lookup(ctx, "pdf-"+sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, rec.Status)
}

func TestPipeline_RetriesUntilThirdAttempt(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{failures: 2})
	p.start(t)
	sub := p.submit(t)

	content := p.waitTerminal(t, "content-generation", sub.JobID)
	assert.Equal(t, queue.StateCompleted, content.State)
	assert.Equal(t, 3, content.AttemptsMade)
	assert.Equal(t, int32(3), p.generator.calls.Load())
	assert.Empty(t, content.FailedReason)

	rec, err := p.status.Lookup(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, rec.Status)
	assert.Nil(t, rec.Error, "a completed job reports no error")

	final := p.waitTerminal(t, "file-upload", JobID(StageUpload, sub.RequestID))
	assert.Equal(t, queue.StateCompleted, final.State)
}

func TestPipeline_FailsAfterThreeAttempts(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{failures: 100})
	p.start(t)
	sub := p.submit(t)

	content := p.waitTerminal(t, "content-generation", sub.JobID)
	assert.Equal(t, queue.StateFailed, content.State)
	assert.Equal(t, 3, content.AttemptsMade)
	assert.Contains(t, content.FailedReason, "upstream unavailable")

	// No fourth attempt and nothing chained.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), p.generator.calls.Load())
	assert.Equal(t, int64(0), totalJobs(t, p.store, "pdf-generation"))

	rec, err := p.status.Lookup(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "upstream unavailable")

	view, err := p.status.Pipeline(context.Background(), sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, PipelineFailed, view.Status)
}

func TestPipeline_ValidationEnqueuesNothing(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{})

	_, err := p.producer.Submit(context.Background(), GenerateRequest{
		UserID:    "u1",
		EbookData: &ebook.Request{Categoria: "Saúde"},
	})
	require.ErrorIs(t, err, ErrValidation)

	for _, q := range Queues() {
		assert.Equal(t, int64(0), totalJobs(t, p.store, q))
	}
	assert.Empty(t, p.recorder.Events())
}
