package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/api/dto"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/storage"
)

// Generate handles POST /api/ebooks/generate
// Validates the request and enqueues the first pipeline stage
func (h *EbookHandler) Generate(c *gin.Context) {
	var req dto.GenerateEbookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		h.respondError(c, http.StatusBadRequest, dto.CodeValidation, "Invalid request body", err)
		return
	}

	in := pipeline.GenerateRequest{UserID: req.UserID}
	if req.EbookData != nil {
		in.EbookData = &ebook.Request{
			Titulo:             req.EbookData.Titulo,
			Categoria:          req.EbookData.Categoria,
			NumeroCapitulos:    req.EbookData.NumeroCapitulos,
			DetalhesAdicionais: req.EbookData.DetalhesAdicionais,
		}
	}

	sub, err := h.producer.Submit(c.Request.Context(), in)
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		h.respondError(c, http.StatusBadRequest, dto.CodeValidation, err.Error(), nil)
		return
	case errors.Is(err, pipeline.ErrQueueUnavailable):
		h.respondError(c, http.StatusServiceUnavailable, dto.CodeQueueUnavailable, "Queue is unavailable, try again later", err)
		return
	case err != nil:
		h.respondError(c, http.StatusInternalServerError, dto.CodeInternal, "Failed to queue ebook generation", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.GenerateEbookResponse{
		JobID:         sub.JobID,
		RequestID:     sub.RequestID,
		Status:        sub.Status,
		EstimatedTime: sub.EstimatedTime,
		Message:       "Ebook generation started",
	})
}

// GetStatus handles GET /api/ebooks/status/:jobId
// Finds the job in the first stage queue that holds it
func (h *EbookHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("jobId")

	rec, err := h.status.Lookup(c.Request.Context(), jobID)
	if err != nil {
		h.lookupError(c, "Job", jobID, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetPipeline handles GET /api/ebooks/pipeline/:requestId
// Returns every stage of a request
func (h *EbookHandler) GetPipeline(c *gin.Context) {
	requestID := c.Param("requestId")

	view, err := h.status.Pipeline(c.Request.Context(), requestID)
	if err != nil {
		h.lookupError(c, "Request", requestID, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *EbookHandler) lookupError(c *gin.Context, kind, id string, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		h.respondError(c, http.StatusNotFound, dto.CodeNotFound, fmt.Sprintf("%s %s not found", kind, id), nil)
	case errors.Is(err, pipeline.ErrQueueUnavailable):
		h.respondError(c, http.StatusServiceUnavailable, dto.CodeQueueUnavailable, "Queue is unavailable, try again later", err)
	default:
		h.respondError(c, http.StatusInternalServerError, dto.CodeInternal, "Failed to get status", err)
	}
}

// DownloadFile handles GET /api/ebooks/files/:fileId
// Streams a stored ebook
func (h *EbookHandler) DownloadFile(c *gin.Context) {
	fileID := c.Param("fileId")
	if h.files == nil {
		h.respondError(c, http.StatusNotFound, dto.CodeNotFound, "File storage is not configured", nil)
		return
	}

	f, err := h.files.Get(c.Request.Context(), fileID)
	if errors.Is(err, storage.ErrFileNotFound) {
		h.respondError(c, http.StatusNotFound, dto.CodeNotFound, fmt.Sprintf("File %s not found", fileID), nil)
		return
	}
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, dto.CodeInternal, "Failed to get file", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", strconv.Quote(f.FileName)))
	c.Header("Last-Modified", f.UploadedAt.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, f.ContentType, f.Content)
}

// Health handles GET /health
func (h *EbookHandler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Root handles GET /
func (h *EbookHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ServiceInfo{
		Name:        h.app.Name,
		Version:     h.app.Version,
		Environment: h.app.Environment,
		Endpoints: map[string]string{
			"generate": "POST /api/ebooks/generate",
			"status":   "GET /api/ebooks/status/:jobId",
			"pipeline": "GET /api/ebooks/pipeline/:requestId",
			"files":    "GET /api/ebooks/files/:fileId",
			"health":   "GET /health",
		},
	})
}

// Test handles GET /api/test
func (h *EbookHandler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, dto.TestResponse{
		Message:   "API is working",
		Timestamp: time.Now().UTC(),
	})
}
