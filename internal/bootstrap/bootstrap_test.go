package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/config"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("PIPELINE_TEST_CONFIG", "")
	assert.Equal(t, "configs/x.yaml", DefaultConfigPath("PIPELINE_TEST_CONFIG", "configs/x.yaml"))

	t.Setenv("PIPELINE_TEST_CONFIG", "/etc/pipeline.yaml")
	assert.Equal(t, "/etc/pipeline.yaml", DefaultConfigPath("PIPELINE_TEST_CONFIG", "configs/x.yaml"))
}

func TestInitEvents_Disabled(t *testing.T) {
	pub, client, err := InitEvents(context.Background(), &config.RabbitMQConfig{}, EventsOptions{}, discard())
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.Equal(t, events.Nop{}, pub)
	assert.Nil(t, EventsCheck(client))
}

func TestCleanup(t *testing.T) {
	var order []string
	closer := func(name string, err error) Closer {
		return func() error {
			order = append(order, name)
			return err
		}
	}

	boom := errors.New("boom")
	err := Cleanup(discard(), closer("db", nil), nil, closer("redis", boom), closer("rabbit", nil))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"rabbit", "redis", "db"}, order)
}

func TestLogMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	meter := mp.Meter("test")
	counter, err := meter.Int64Counter("ebook.job.executions")
	require.NoError(t, err)
	hist, err := meter.Float64Histogram("ebook.job.duration")
	require.NoError(t, err)

	attrs := metric.WithAttributes(attribute.String("queue", "pdf-generation"))
	counter.Add(context.Background(), 2, attrs)
	hist.Record(context.Background(), 1.5, attrs)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	require.NoError(t, LogMetrics(context.Background(), reader, logger))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, out, "name=ebook.job.executions value=2 attributes.queue=pdf-generation")
	assert.Contains(t, out, "name=ebook.job.duration count=1 sum=1.5 attributes.queue=pdf-generation")
}
