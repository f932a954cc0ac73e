package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "defensight.ingest"

var (
	metricsOnce     sync.Once
	metricsInitErr  error
	ingestDuration  metric.Float64Histogram
	recordsIndexed  metric.Int64Counter
	ingestErrsTotal metric.Int64Counter
)

func ensureMetrics() bool {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		var err error
		ingestDuration, err = meter.Float64Histogram(
			"defensight_ingest_duration_seconds",
			metric.WithDescription("Time spent indexing one source"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		recordsIndexed, err = meter.Int64Counter(
			"defensight_ingest_records_indexed_total",
			metric.WithDescription("Records successfully indexed"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		ingestErrsTotal, err = meter.Int64Counter(
			"defensight_ingest_errors_total",
			metric.WithDescription("Ingestion batch failures"),
		)
		metricsInitErr = err
	})
	return metricsInitErr == nil
}

func recordIngest(ctx context.Context, source string, indexed int, duration time.Duration) {
	if !ensureMetrics() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	ingestDuration.Record(ctx, duration.Seconds(), attrs)
	recordsIndexed.Add(ctx, int64(indexed), attrs)
}

func recordIngestError(ctx context.Context, source string) {
	if !ensureMetrics() {
		return
	}
	ingestErrsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
