package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName is the scope name for worker metrics and traces.
const instrumentationName = "github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/worker"

// Instruments:
//   - ebook.job.duration (Float64Histogram): handler time in seconds
//   - ebook.job.executions (Int64Counter): attempts by outcome
//   - ebook.job.stalled (Int64Counter): jobs whose lock expired, by outcome
//
// Attributes: queue, stage, status ("ok", "error", "timeout", "unrecoverable");
// the stalled counter carries queue and outcome ("requeued", "failed").
type metrics struct {
	duration   metric.Float64Histogram
	executions metric.Int64Counter
	stalled    metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	// The OTel API hands back noop instruments on error.
	duration, _ := meter.Float64Histogram(
		"ebook.job.duration",
		metric.WithDescription("Duration of stage execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"ebook.job.executions",
		metric.WithDescription("Total number of stage executions"),
		metric.WithUnit("{execution}"),
	)
	stalled, _ := meter.Int64Counter(
		"ebook.job.stalled",
		metric.WithDescription("Jobs recovered after their lock expired"),
		metric.WithUnit("{job}"),
	)
	return &metrics{duration: duration, executions: executions, stalled: stalled}
}

func (m *metrics) record(ctx context.Context, queueName, stage, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("queue", queueName),
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	m.executions.Add(ctx, 1, attrs)
}

const (
	outcomeRequeued = "requeued"
	outcomeFailed   = "failed"
)

func (m *metrics) recordStalled(ctx context.Context, queueName, outcome string, n int) {
	m.stalled.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("queue", queueName),
		attribute.String("outcome", outcome),
	))
}
