package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"
)

// Config holds the settings of an OpenAI-compatible endpoint.
type Config struct {
	// BaseURL defaults to the public OpenAI API.
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int
	RatePerMinute int
	Burst         int
	Timeout       time.Duration
}

// OpenAIGenerator generates content through a chat completions endpoint,
// limited to a fixed request rate shared by every caller.
type OpenAIGenerator struct {
	cfg     Config
	client  *openai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIGenerator creates a generator for an OpenAI-compatible endpoint.
func NewOpenAIGenerator(cfg Config, logger *slog.Logger) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIGenerator{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientCfg),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.Burst),
		logger:  logger,
	}
}

const systemPrompt = `Você escreve ebooks em português. Responda somente com JSON no formato
{"titulo":"","subtitulo":"","categoria":"","introducao":"","capitulos":[{"numero":1,"titulo":"","conteudo":""}],"conclusao":""}.`

func userPrompt(req ebook.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Título: %s\nCategoria: %s\nNúmero de capítulos: %d\n", req.Titulo, req.Categoria, req.Chapters())
	if req.DetalhesAdicionais != "" {
		fmt.Fprintf(&b, "Detalhes adicionais: %s\n", req.DetalhesAdicionais)
	}
	return b.String()
}

// Generate implements pipeline.ContentGenerator. Client errors other than
// 408 and 429 are unrecoverable; everything else may be retried.
func (g *OpenAIGenerator) Generate(ctx context.Context, req ebook.Request) (*ebook.Structure, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		MaxTokens: g.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	g.logger.Debug("Content API call finished",
		slog.Int("status", statusCode(err)),
		slog.Duration("latency", time.Since(start)),
		slog.String("titulo", req.Titulo),
	)

	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("content api returned no choices")
	}

	var s ebook.Structure
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &s); err != nil {
		return nil, fmt.Errorf("failed to decode generated structure: %w", err)
	}
	if s.Titulo == "" {
		s.Titulo = req.Titulo
	}
	if s.Categoria == "" {
		s.Categoria = req.Categoria
	}
	for i := range s.Capitulos {
		if s.Capitulos[i].Numero == 0 {
			s.Capitulos[i].Numero = i + 1
		}
	}
	return &s, nil
}

// statusCode extracts the HTTP status of a failed call, 0 when there was no
// answer, and 200 on success.
func statusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func classify(err error) error {
	wrapped := fmt.Errorf("content api request failed: %w", err)
	status := statusCode(err)
	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return worker.Unrecoverable(wrapped)
	}
	return wrapped
}

// stripFences removes a markdown code fence around the model's answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
