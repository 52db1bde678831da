package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/logger"
)

func TestTemplateGenerator_Generate(t *testing.T) {
	tests := []struct {
		name         string
		req          ebook.Request
		wantChapters int
	}{
		{"default chapters", ebook.Request{Titulo: "Guia X", Categoria: "Saúde"}, ebook.DefaultChapters},
		{"explicit chapters", ebook.Request{Titulo: "Guia X", Categoria: "Saúde", NumeroCapitulos: 12}, 12},
		{"with details", ebook.Request{Titulo: "Guia X", Categoria: "Saúde", NumeroCapitulos: 1, DetalhesAdicionais: "iniciantes"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewTemplateGenerator()
			s, err := g.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			require.NoError(t, s.Validate())

			assert.Equal(t, "Guia X", s.Titulo)
			assert.Equal(t, "Saúde", s.Categoria)
			require.Len(t, s.Capitulos, tt.wantChapters)
			for i, c := range s.Capitulos {
				assert.Equal(t, i+1, c.Numero)
				assert.NotEmpty(t, c.Conteudo)
			}
			if tt.req.DetalhesAdicionais != "" {
				assert.Contains(t, s.Introducao, tt.req.DetalhesAdicionais)
			}

			again, err := g.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, s, again)
		})
	}
}

func TestTemplateGenerator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTemplateGenerator().Generate(ctx, ebook.Request{Titulo: "Guia X", Categoria: "Saúde"})
	assert.ErrorIs(t, err, context.Canceled)
}

func chatBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	})
	require.NoError(t, err)
	return body
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	structure := `{"titulo":"Guia X","categoria":"Saúde","introducao":"Olá","capitulos":[{"titulo":"Um","conteudo":"..."},{"titulo":"Dois","conteudo":"..."}],"conclusao":"Fim"}`

	tests := []struct {
		name    string
		content string
	}{
		{"plain json", structure},
		{"fenced json", "```json\n" + structure + "\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got openai.ChatCompletionRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(chatBody(t, tt.content))
			}))
			defer srv.Close()

			g := NewOpenAIGenerator(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "test-model"}, logger.NewDiscard().Logger)
			s, err := g.Generate(context.Background(), ebook.Request{Titulo: "Guia X", Categoria: "Saúde", NumeroCapitulos: 2})
			require.NoError(t, err)

			assert.Equal(t, "test-model", got.Model)
			require.NotNil(t, got.ResponseFormat)
			assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, got.ResponseFormat.Type)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
			assert.Contains(t, got.Messages[1].Content, "Número de capítulos: 2")

			require.NoError(t, s.Validate())
			require.Len(t, s.Capitulos, 2)
			assert.Equal(t, 1, s.Capitulos[0].Numero)
			assert.Equal(t, 2, s.Capitulos[1].Numero)
		})
	}
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	apiError := func(msg string) []byte {
		return []byte(`{"error":{"message":"` + msg + `","type":"invalid_request_error"}}`)
	}

	tests := []struct {
		name          string
		status        int
		body          []byte
		unrecoverable bool
	}{
		{"unauthorized", http.StatusUnauthorized, apiError("bad key"), true},
		{"bad request", http.StatusBadRequest, apiError("bad"), true},
		{"request timeout", http.StatusRequestTimeout, apiError("slow"), false},
		{"rate limited", http.StatusTooManyRequests, apiError("slow down"), false},
		{"server error", http.StatusInternalServerError, apiError("oops"), false},
		{"gateway without json", http.StatusBadGateway, []byte(`upstream`), false},
		{"forbidden without json", http.StatusForbidden, []byte(`<html>denied</html>`), true},
		{"no choices", http.StatusOK, []byte(`{"choices":[]}`), false},
		{"not json", http.StatusOK, []byte(`<html>`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			g := NewOpenAIGenerator(Config{BaseURL: srv.URL}, logger.NewDiscard().Logger)
			_, err := g.Generate(context.Background(), ebook.Request{Titulo: "Guia X", Categoria: "Saúde"})

			require.Error(t, err)
			assert.Equal(t, tt.unrecoverable, worker.IsUnrecoverable(err))
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, statusCode(err))
			}
		})
	}
}

func TestOpenAIGenerator_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatBody(t, `{"titulo":"Guia X","capitulos":[{"titulo":"Um"}]}`))
	}))
	defer srv.Close()

	// One request per minute with a burst of one: the second call waits
	// longer than its context allows.
	g := NewOpenAIGenerator(Config{BaseURL: srv.URL, RatePerMinute: 1, Burst: 1}, logger.NewDiscard().Logger)
	req := ebook.Request{Titulo: "Guia X", Categoria: "Saúde"}

	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, req)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
