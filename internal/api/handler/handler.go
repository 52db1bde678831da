package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/api/dto"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/storage"
)

// Submitter enqueues generation requests
type Submitter interface {
	Submit(ctx context.Context, req pipeline.GenerateRequest) (*pipeline.Submission, error)
}

// StatusReader answers status queries
type StatusReader interface {
	Lookup(ctx context.Context, jobID string) (*pipeline.StatusRecord, error)
	Pipeline(ctx context.Context, requestID string) (*pipeline.PipelineView, error)
}

// HealthChecker reports dependency health
type HealthChecker interface {
	Check(ctx context.Context) *pipeline.HealthReport
}

// FileReader loads stored ebooks
type FileReader interface {
	Get(ctx context.Context, fileID string) (*storage.File, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	App      config.AppConfig
	Auth     config.AuthConfig
	Producer Submitter
	Status   StatusReader
	Health   HealthChecker
	Files    FileReader
}

// EbookHandler handles ebook pipeline HTTP requests
type EbookHandler struct {
	logger   *slog.Logger
	app      config.AppConfig
	producer Submitter
	status   StatusReader
	health   HealthChecker
	files    FileReader
}

// NewEbookHandler creates a new EbookHandler instance
func NewEbookHandler(deps *Dependencies) *EbookHandler {
	return &EbookHandler{
		logger:   deps.Logger,
		app:      deps.App,
		producer: deps.Producer,
		status:   deps.Status,
		health:   deps.Health,
		files:    deps.Files,
	}
}

// respondError writes the error envelope. The error text is only exposed
// outside production.
func (h *EbookHandler) respondError(c *gin.Context, status int, code, message string, err error) {
	body := dto.NewError(code, message)
	if err != nil {
		_ = c.Error(err)
		if !h.app.IsProduction() {
			body.Error.Details = err.Error()
		}
	}
	c.AbortWithStatusJSON(status, body)
}
