package pipeline

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

func TestStageTable(t *testing.T) {
	tests := []struct {
		stage       Stage
		prefix      string
		queue       string
		concurrency int
		next        Stage
		hasNext     bool
	}{
		{StageContent, "ebook-", "content-generation", 3, StageRender, true},
		{StageRender, "pdf-", "pdf-generation", 5, StageUpload, true},
		{StageUpload, "upload-", "file-upload", 8, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			assert.True(t, tt.stage.Valid())
			assert.Equal(t, tt.prefix, tt.stage.Prefix())
			assert.Equal(t, tt.queue, tt.stage.Queue())
			assert.Equal(t, tt.concurrency, DefaultPolicies()[tt.stage].Concurrency)

			next, ok := tt.stage.Next()
			assert.Equal(t, tt.hasNext, ok)
			assert.Equal(t, tt.next, next)

			s, ok := StageForQueue(tt.queue)
			require.True(t, ok)
			assert.Equal(t, tt.stage, s)
		})
	}

	assert.False(t, Stage("publish").Valid())
	assert.Equal(t, []string{"content-generation", "pdf-generation", "file-upload"}, Queues())
}

func TestChain_FollowsStageOrder(t *testing.T) {
	policies := DefaultPolicies()
	structure := ebook.Structure{Titulo: "Guia X", Categoria: "Saúde"}

	render := ChainContent(ContentPayload{UserID: "u1", RequestID: "req_1"}, ContentResult{Estrutura: structure}, policies)
	require.NotNil(t, render)
	assert.Equal(t, "pdf-generation", render.Queue)
	assert.Equal(t, "pdf-req_1", render.Job.ID)
	assert.Equal(t, "generate-pdf", render.Job.Name)

	upload := ChainRender(RenderPayload{Estrutura: structure, UserID: "u1", RequestID: "req_1"},
		&ebook.Document{Content: []byte("%PDF"), Pages: 3}, RenderResult{FileName: "guia-x.pdf"}, policies)
	require.NotNil(t, upload)
	assert.Equal(t, "file-upload", upload.Queue)
	assert.Equal(t, "upload-req_1", upload.Job.ID)
	assert.Equal(t, 3, upload.Job.MaxAttempts)

	assert.Nil(t, chain(StageUpload, "req_1", UploadResult{}, policies), "upload is the last stage")
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		id        string
		stage     Stage
		requestID string
		ok        bool
	}{
		{"ebook-req_1_abc", StageContent, "req_1_abc", true},
		{"pdf-req_1_abc", StageRender, "req_1_abc", true},
		{"upload-req_1_abc", StageUpload, "req_1_abc", true},
		{"ebook-", "", "", false},
		{"req_1_abc", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			stage, rid, ok := ParseJobID(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.stage, stage)
			assert.Equal(t, tt.requestID, rid)
			if ok {
				assert.Equal(t, tt.id, JobID(stage, rid))
			}
		})
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	p := PoliciesFromConfig(config.StagesConfig{
		Content: config.StageConfig{
			Concurrency: 2,
			Attempts:    5,
			Backoff:     config.BackoffConfig{Type: "fixed", Delay: time.Second},
			KeepFailed:  10,
			Timeout:     90 * time.Second,
		},
	})

	content := p.For(StageContent)
	assert.Equal(t, 2, content.Concurrency)
	assert.Equal(t, 5, content.MaxAttempts)
	assert.Equal(t, queue.Backoff{Type: queue.BackoffFixed, Delay: time.Second}, content.Backoff)
	assert.Equal(t, queue.Retention{KeepCompleted: 5, KeepFailed: 10}, content.Retention)
	assert.Equal(t, 90*time.Second, content.Timeout)

	assert.Equal(t, DefaultPolicies()[StageRender], p.For(StageRender))
	assert.Equal(t, DefaultPolicies()[StageUpload], Policies{}.For(StageUpload))
}

func TestPolicies_NewJob(t *testing.T) {
	nj := DefaultPolicies().NewJob(StageRender, "req_1", map[string]string{"a": "b"})

	assert.Equal(t, "pdf-req_1", nj.ID)
	assert.Equal(t, "generate-pdf", nj.Name)
	assert.Equal(t, 3, nj.MaxAttempts)
	assert.Equal(t, queue.DefaultBackoff, nj.Backoff)
}

func TestNewRequestID(t *testing.T) {
	now := time.UnixMilli(1735732800123)
	pattern := regexp.MustCompile(`^req_1735732800123_[0-9a-z]{9}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRequestID(now)
		require.Regexp(t, pattern, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 90)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		titulo string
		want   string
	}{
		{"Guia X", "guia-x-req_1.pdf"},
		{"  Saúde & Bem-estar!  ", "sa-de-bem-estar-req_1.pdf"},
		{"???", "ebook-req_1.pdf"},
		{"", "ebook-req_1.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.titulo, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.titulo, "req_1"))
		})
	}
}
