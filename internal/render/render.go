// Package render lays out an ebook structure as an A4 PDF.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
)

const (
	fontFamily   = "Helvetica"
	marginMM     = 20.0
	bodyLineMM   = 6.0
	headingLine  = 10.0
	creatorLabel = "ebook-pipeline"
)

// PDFRenderer renders structures with fpdf core fonts.
type PDFRenderer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewPDFRenderer creates a renderer.
func NewPDFRenderer(logger *slog.Logger) *PDFRenderer {
	return &PDFRenderer{logger: logger, now: time.Now}
}

// Render implements pipeline.Renderer. The document has a cover page, an
// introduction, one page per chapter and a conclusion.
func (r *PDFRenderer) Render(ctx context.Context, s *ebook.Structure) (*ebook.Document, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("cannot render structure: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(s.Titulo, true)
	pdf.SetSubject(s.Categoria, true)
	pdf.SetCreator(creatorLabel, true)
	pdf.SetCreationDate(r.now())
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		if pdf.PageNo() == 1 {
			return
		}
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	// Cover
	pdf.AddPage()
	pdf.SetY(90)
	pdf.SetFont(fontFamily, "B", 28)
	pdf.MultiCell(0, 12, tr(s.Titulo), "", "C", false)
	if s.Subtitulo != "" {
		pdf.Ln(4)
		pdf.SetFont(fontFamily, "", 16)
		pdf.MultiCell(0, 8, tr(s.Subtitulo), "", "C", false)
	}
	pdf.Ln(8)
	pdf.SetFont(fontFamily, "I", 12)
	pdf.MultiCell(0, 8, tr(s.Categoria), "", "C", false)

	section := func(title, body string) {
		pdf.AddPage()
		pdf.SetFont(fontFamily, "B", 18)
		pdf.MultiCell(0, headingLine, tr(title), "", "L", false)
		pdf.Ln(4)
		pdf.SetFont(fontFamily, "", 12)
		pdf.MultiCell(0, bodyLineMM, tr(body), "", "J", false)
	}

	section("Introdução", s.Introducao)
	for _, c := range s.Capitulos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		section(fmt.Sprintf("Capítulo %d: %s", c.Numero, c.Titulo), c.Conteudo)
	}
	if s.Conclusao != "" {
		section("Conclusão", s.Conclusao)
	}

	pages := pdf.PageNo()
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	r.logger.Debug("PDF rendered",
		slog.String("titulo", s.Titulo),
		slog.Int("pages", pages),
		slog.Int("bytes", buf.Len()),
	)
	return &ebook.Document{Content: buf.Bytes(), Pages: pages}, nil
}
