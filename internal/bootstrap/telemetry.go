package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// InitMetrics installs a global SDK meter provider whose readings are pulled
// through the returned reader.
func InitMetrics() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return mp, reader
}

// ReportMetrics logs a metrics snapshot every interval until ctx is done.
func ReportMetrics(ctx context.Context, reader sdkmetric.Reader, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := LogMetrics(ctx, reader, logger); err != nil {
				logger.Warn("Failed to collect metrics", slog.Any("error", err))
			}
		}
	}
}

// LogMetrics collects the current readings and logs one line per data point.
// Counters log their running total, histograms their count and sum.
func LogMetrics(ctx context.Context, reader sdkmetric.Reader, logger *slog.Logger) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return err
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					logger.LogAttrs(ctx, slog.LevelInfo, "Metric",
						slog.String("name", m.Name),
						slog.Int64("value", dp.Value),
						attrGroup(dp.Attributes),
					)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					logger.LogAttrs(ctx, slog.LevelInfo, "Metric",
						slog.String("name", m.Name),
						slog.Uint64("count", dp.Count),
						slog.Float64("sum", dp.Sum),
						attrGroup(dp.Attributes),
					)
				}
			}
		}
	}
	return nil
}

func attrGroup(set attribute.Set) slog.Attr {
	args := make([]any, 0, set.Len())
	for _, kv := range set.ToSlice() {
		args = append(args, slog.String(string(kv.Key), kv.Value.Emit()))
	}
	return slog.Group("attributes", args...)
}
