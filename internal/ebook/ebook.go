// Package ebook holds the domain types that flow between pipeline stages:
// the client's request, the generated content structure and the stored
// artifact reference.
package ebook

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultChapters is used when a request omits numeroCapitulos
	DefaultChapters = 5
	// MaxChapters bounds numeroCapitulos
	MaxChapters = 20
)

// Request is the business object a client submits for generation.
type Request struct {
	Titulo             string `json:"titulo"`
	Categoria          string `json:"categoria"`
	NumeroCapitulos    int    `json:"numeroCapitulos,omitempty"`
	DetalhesAdicionais string `json:"detalhesAdicionais,omitempty"`
}

// Chapters returns the requested chapter count or the default.
func (r Request) Chapters() int {
	if r.NumeroCapitulos <= 0 {
		return DefaultChapters
	}
	return r.NumeroCapitulos
}

// Chapter is one generated chapter.
type Chapter struct {
	Numero   int    `json:"numero"`
	Titulo   string `json:"titulo"`
	Conteudo string `json:"conteudo"`
}

// Structure is the generated content of an ebook, the input of rendering.
type Structure struct {
	Titulo     string    `json:"titulo"`
	Subtitulo  string    `json:"subtitulo,omitempty"`
	Categoria  string    `json:"categoria"`
	Introducao string    `json:"introducao"`
	Capitulos  []Chapter `json:"capitulos"`
	Conclusao  string    `json:"conclusao"`
}

// Validate reports whether the structure can be rendered.
func (s *Structure) Validate() error {
	if strings.TrimSpace(s.Titulo) == "" {
		return errors.New("structure has no title")
	}
	if len(s.Capitulos) == 0 {
		return errors.New("structure has no chapters")
	}
	for i, c := range s.Capitulos {
		if strings.TrimSpace(c.Titulo) == "" {
			return fmt.Errorf("chapter %d has no title", i+1)
		}
	}
	return nil
}

// Artifact is a rendered file waiting to be stored.
type Artifact struct {
	FileName    string
	ContentType string
	Content     []byte
	UserID      string
	RequestID   string
}

// StoredFile is the durable reference returned once an artifact is stored.
type StoredFile struct {
	FileID      string    `json:"fileId"`
	FileName    string    `json:"fileName"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Document is a rendered ebook.
type Document struct {
	Content []byte
	Pages   int
}
