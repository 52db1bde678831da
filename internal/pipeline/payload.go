package pipeline

import (
	"errors"
	"strings"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"
)

// ContentPayload is the data of a content-generation job.
type ContentPayload struct {
	UserID    string        `json:"userId"`
	EbookData ebook.Request `json:"ebookData"`
	RequestID string        `json:"requestId"`
	Timestamp time.Time     `json:"timestamp"`
}

// RenderPayload is the data of a pdf-generation job.
type RenderPayload struct {
	Estrutura ebook.Structure `json:"estrutura"`
	UserID    string          `json:"userId"`
	RequestID string          `json:"requestId"`
}

// UploadMetadata describes the rendered file carried by an upload job.
type UploadMetadata struct {
	Titulo    string `json:"titulo"`
	Categoria string `json:"categoria"`
	Paginas   int    `json:"paginas"`
	Tamanho   int    `json:"tamanho"`
}

// UploadPayload is the data of a file-upload job.
type UploadPayload struct {
	PDFBuffer []byte         `json:"pdfBuffer"`
	FileName  string         `json:"fileName"`
	UserID    string         `json:"userId"`
	RequestID string         `json:"requestId"`
	Metadata  UploadMetadata `json:"metadata"`
}

// ContentResult is the return value of a content-generation job.
type ContentResult struct {
	Estrutura ebook.Structure `json:"estrutura"`
	UserID    string          `json:"userId"`
	RequestID string          `json:"requestId"`
}

// RenderResult is the return value of a pdf-generation job. The PDF itself
// travels in the upload job's payload.
type RenderResult struct {
	FileName  string `json:"fileName"`
	Pages     int    `json:"paginas"`
	Size      int    `json:"tamanho"`
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

// UploadResult is the return value of a file-upload job and the final
// result of the pipeline.
type UploadResult struct {
	ebook.StoredFile
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

var errMissingIDs = errors.New("payload has no userId or requestId")

func checkIDs(userID, requestID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(requestID) == "" {
		return errMissingIDs
	}
	return nil
}

// ChainContent builds the pdf-generation job that follows a completed
// content job. It depends only on the content result and the request's
// identifiers.
func ChainContent(p ContentPayload, r ContentResult, policies Policies) *worker.Next {
	return chain(StageContent, p.RequestID, RenderPayload{
		Estrutura: r.Estrutura,
		UserID:    p.UserID,
		RequestID: p.RequestID,
	}, policies)
}

// ChainRender builds the file-upload job that follows a completed render
// job.
func ChainRender(p RenderPayload, doc *ebook.Document, r RenderResult, policies Policies) *worker.Next {
	return chain(StageRender, p.RequestID, UploadPayload{
		PDFBuffer: doc.Content,
		FileName:  r.FileName,
		UserID:    p.UserID,
		RequestID: p.RequestID,
		Metadata: UploadMetadata{
			Titulo:    p.Estrutura.Titulo,
			Categoria: p.Estrutura.Categoria,
			Paginas:   doc.Pages,
			Tamanho:   len(doc.Content),
		},
	}, policies)
}

// chain builds the job of the stage after s. The last stage has none.
func chain(s Stage, requestID string, data any, policies Policies) *worker.Next {
	next, ok := s.Next()
	if !ok {
		return nil
	}
	return &worker.Next{
		Queue: next.Queue(),
		Job:   policies.NewJob(next, requestID, data),
	}
}

// FileName returns the artifact name of a request: a slug of the title
// followed by the request id.
func FileName(titulo, requestID string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(titulo) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "ebook"
	}
	return slug + "-" + requestID + ".pdf"
}
