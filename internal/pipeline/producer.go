package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

var (
	// ErrValidation is wrapped by every request validation failure
	ErrValidation = errors.New("validation failed")

	// ErrQueueUnavailable is returned when the queue store cannot be reached
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// EstimatedTime is the human-readable completion estimate returned on submit.
const EstimatedTime = "2-5 minutes"

// StatusQueued is the state reported for a freshly submitted request.
const StatusQueued = "queued"

// GenerateRequest is a client's ebook generation request.
type GenerateRequest struct {
	UserID    string         `json:"userId"`
	EbookData *ebook.Request `json:"ebookData"`
}

// Submission acknowledges an accepted request.
type Submission struct {
	JobID         string `json:"jobId"`
	RequestID     string `json:"requestId"`
	Status        string `json:"status"`
	EstimatedTime string `json:"estimatedTime"`
}

// Producer validates requests and enqueues their content-generation job.
type Producer struct {
	store    queue.Store
	policies Policies
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerEvents publishes a waiting event for every enqueued job.
func WithProducerEvents(p events.Publisher) ProducerOption {
	return func(pr *Producer) { pr.events = p }
}

// WithProducerClock overrides the clock used for request ids.
func WithProducerClock(now func() time.Time) ProducerOption {
	return func(pr *Producer) { pr.now = now }
}

// NewProducer creates a producer writing to store.
func NewProducer(store queue.Store, policies Policies, logger *slog.Logger, opts ...ProducerOption) *Producer {
	p := &Producer{
		store:    store,
		policies: policies,
		events:   events.Nop{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit validates req and enqueues its first stage. Nothing is enqueued
// when validation fails.
func (p *Producer) Submit(ctx context.Context, req GenerateRequest) (*Submission, error) {
	data, err := normalize(req)
	if err != nil {
		return nil, err
	}

	now := p.now()
	requestID := NewRequestID(now)
	payload := ContentPayload{
		UserID:    strings.TrimSpace(req.UserID),
		EbookData: data,
		RequestID: requestID,
		Timestamp: now.UTC(),
	}

	nj := p.policies.NewJob(StageContent, requestID, payload)
	j, err := p.store.Add(ctx, StageContent.Queue(), nj)
	if err != nil {
		p.logger.Error("Failed to enqueue content job",
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: failed to enqueue job: %v", ErrQueueUnavailable, err)
	}

	p.logger.Info("Ebook generation queued",
		slog.String("job_id", j.ID),
		slog.String("request_id", requestID),
		slog.String("user_id", payload.UserID),
		slog.String("titulo", data.Titulo),
	)

	if err := p.events.Publish(ctx, events.Event{
		Queue:     j.Queue,
		JobID:     j.ID,
		State:     events.StateWaiting,
		Timestamp: now.UTC(),
	}); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
	}

	return &Submission{
		JobID:         j.ID,
		RequestID:     requestID,
		Status:        StatusQueued,
		EstimatedTime: EstimatedTime,
	}, nil
}

func normalize(req GenerateRequest) (ebook.Request, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return ebook.Request{}, &ValidationError{Field: "userId", Reason: "is required"}
	}
	if req.EbookData == nil {
		return ebook.Request{}, &ValidationError{Field: "ebookData", Reason: "is required"}
	}

	data := *req.EbookData
	data.Titulo = strings.TrimSpace(data.Titulo)
	data.Categoria = strings.TrimSpace(data.Categoria)
	data.DetalhesAdicionais = strings.TrimSpace(data.DetalhesAdicionais)

	if data.Titulo == "" {
		return ebook.Request{}, &ValidationError{Field: "ebookData.titulo", Reason: "is required"}
	}
	if data.Categoria == "" {
		return ebook.Request{}, &ValidationError{Field: "ebookData.categoria", Reason: "is required"}
	}
	if data.NumeroCapitulos < 0 || data.NumeroCapitulos > ebook.MaxChapters {
		return ebook.Request{}, &ValidationError{
			Field:  "ebookData.numeroCapitulos",
			Reason: fmt.Sprintf("must be between 1 and %d", ebook.MaxChapters),
		}
	}
	if data.NumeroCapitulos == 0 {
		data.NumeroCapitulos = ebook.DefaultChapters
	}
	return data, nil
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// uuidRandomBytes are the UUIDv4 bytes free of version and variant bits.
var uuidRandomBytes = []int{0, 1, 2, 3, 4, 5, 7, 9, 10, 11, 12, 13, 14, 15}

// NewRequestID returns "req_<unix millis>_<9 random base36 chars>".
func NewRequestID(now time.Time) string {
	return newRequestID(now, rand.Reader)
}

// newRequestID draws the suffix from random UUID bytes. Bytes of 252 and
// above are skipped so every character is equally likely.
func newRequestID(now time.Time, r io.Reader) string {
	const limit = 256 - 256%len(base36)

	suffix := make([]byte, 0, 9)
	for len(suffix) < cap(suffix) {
		u := uuid.Must(uuid.NewRandomFromReader(r))
		for _, i := range uuidRandomBytes {
			if int(u[i]) >= limit {
				continue
			}
			suffix = append(suffix, base36[int(u[i])%len(base36)])
			if len(suffix) == cap(suffix) {
				break
			}
		}
	}
	return "req_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}
