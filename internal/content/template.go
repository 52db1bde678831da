// Package content generates the structure of an ebook from a client's
// request. The template generator works offline and is deterministic; the
// OpenAI generator asks an OpenAI-compatible chat completions endpoint.
package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
)

// TemplateGenerator builds a structure from fixed text templates.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a template generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

var chapterThemes = []string{
	"Fundamentos",
	"Primeiros passos",
	"Planejamento",
	"Ferramentas essenciais",
	"Erros comuns",
	"Estratégias avançadas",
	"Estudos de caso",
	"Rotina e consistência",
	"Medindo resultados",
	"Próximos passos",
}

// Generate implements pipeline.ContentGenerator.
func (g *TemplateGenerator) Generate(ctx context.Context, req ebook.Request) (*ebook.Structure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	titulo := strings.TrimSpace(req.Titulo)
	categoria := strings.TrimSpace(req.Categoria)
	n := req.Chapters()

	s := &ebook.Structure{
		Titulo:    titulo,
		Subtitulo: fmt.Sprintf("Um guia prático de %s", strings.ToLower(categoria)),
		Categoria: categoria,
		Introducao: fmt.Sprintf(
			"Este ebook apresenta %s em %d capítulos, do básico às práticas que fazem diferença no dia a dia.",
			titulo, n,
		),
		Capitulos: make([]ebook.Chapter, 0, n),
		Conclusao: fmt.Sprintf(
			"Você chegou ao fim de %s. Revise os capítulos sempre que precisar e coloque um passo em prática hoje.",
			titulo,
		),
	}
	if details := strings.TrimSpace(req.DetalhesAdicionais); details != "" {
		s.Introducao += " Foco desta edição: " + details + "."
	}

	for i := 0; i < n; i++ {
		theme := chapterThemes[i%len(chapterThemes)]
		s.Capitulos = append(s.Capitulos, ebook.Chapter{
			Numero: i + 1,
			Titulo: fmt.Sprintf("%s em %s", theme, categoria),
			Conteudo: fmt.Sprintf(
				"%s são a base para avançar em %s. Neste capítulo você vê o que importa, por onde começar e como evitar desperdício de tempo.",
				theme, strings.ToLower(categoria),
			),
		})
	}
	return s, nil
}
