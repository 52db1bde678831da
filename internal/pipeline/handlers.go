package pipeline

import (
	"context"
	"fmt"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"
)

// ContentGenerator produces the structure of an ebook from a request.
type ContentGenerator interface {
	Generate(ctx context.Context, req ebook.Request) (*ebook.Structure, error)
}

// Renderer turns a structure into a PDF document.
type Renderer interface {
	Render(ctx context.Context, s *ebook.Structure) (*ebook.Document, error)
}

// Uploader stores an artifact and returns its public reference.
type Uploader interface {
	Upload(ctx context.Context, a *ebook.Artifact) (*ebook.StoredFile, error)
}

func decode(j *queue.Job, v any) error {
	if err := j.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", worker.ErrInvalidPayload, err)
	}
	return nil
}

// ContentHandler runs the content-generation stage.
type ContentHandler struct {
	generator ContentGenerator
	policies  Policies
}

// NewContentHandler creates the content stage handler.
func NewContentHandler(g ContentGenerator, policies Policies) *ContentHandler {
	return &ContentHandler{generator: g, policies: policies}
}

// Handle implements worker.Handler.
func (h *ContentHandler) Handle(ctx context.Context, j *queue.Job, progress worker.ProgressFunc) (*worker.Outcome, error) {
	var p ContentPayload
	if err := decode(j, &p); err != nil {
		return nil, err
	}
	if err := checkIDs(p.UserID, p.RequestID); err != nil {
		return nil, worker.Unrecoverable(err)
	}
	progress(10)

	s, err := h.generator.Generate(ctx, p.EbookData)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("generated content is invalid: %w", err)
	}
	progress(90)

	result := ContentResult{Estrutura: *s, UserID: p.UserID, RequestID: p.RequestID}
	return &worker.Outcome{
		Result: result,
		Next:   ChainContent(p, result, h.policies),
	}, nil
}

// RenderHandler runs the pdf-generation stage.
type RenderHandler struct {
	renderer Renderer
	policies Policies
}

// NewRenderHandler creates the render stage handler.
func NewRenderHandler(r Renderer, policies Policies) *RenderHandler {
	return &RenderHandler{renderer: r, policies: policies}
}

// Handle implements worker.Handler.
func (h *RenderHandler) Handle(ctx context.Context, j *queue.Job, progress worker.ProgressFunc) (*worker.Outcome, error) {
	var p RenderPayload
	if err := decode(j, &p); err != nil {
		return nil, err
	}
	if err := checkIDs(p.UserID, p.RequestID); err != nil {
		return nil, worker.Unrecoverable(err)
	}
	if err := p.Estrutura.Validate(); err != nil {
		return nil, worker.Unrecoverable(err)
	}
	progress(10)

	doc, err := h.renderer.Render(ctx, &p.Estrutura)
	if err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	progress(90)

	result := RenderResult{
		FileName:  FileName(p.Estrutura.Titulo, p.RequestID),
		Pages:     doc.Pages,
		Size:      len(doc.Content),
		UserID:    p.UserID,
		RequestID: p.RequestID,
	}
	return &worker.Outcome{
		Result: result,
		Next:   ChainRender(p, doc, result, h.policies),
	}, nil
}

// UploadHandler runs the file-upload stage, the last one.
type UploadHandler struct {
	uploader Uploader
}

// NewUploadHandler creates the upload stage handler.
func NewUploadHandler(u Uploader) *UploadHandler {
	return &UploadHandler{uploader: u}
}

// Handle implements worker.Handler.
func (h *UploadHandler) Handle(ctx context.Context, j *queue.Job, progress worker.ProgressFunc) (*worker.Outcome, error) {
	var p UploadPayload
	if err := decode(j, &p); err != nil {
		return nil, err
	}
	if err := checkIDs(p.UserID, p.RequestID); err != nil {
		return nil, worker.Unrecoverable(err)
	}
	if len(p.PDFBuffer) == 0 {
		return nil, worker.Unrecoverable(fmt.Errorf("upload payload has no file content"))
	}
	progress(10)

	stored, err := h.uploader.Upload(ctx, &ebook.Artifact{
		FileName:    p.FileName,
		ContentType: "application/pdf",
		Content:     p.PDFBuffer,
		UserID:      p.UserID,
		RequestID:   p.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	progress(100)

	return &worker.Outcome{
		Result: UploadResult{StoredFile: *stored, UserID: p.UserID, RequestID: p.RequestID},
	}, nil
}
