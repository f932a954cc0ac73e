package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/defensight/defensight/pkg/logger"
)

const (
	meterName      = "defensight.embedder"
	labelProvider  = "provider"
	labelModel     = "model"
	labelBatchSize = "batch_size"
	labelErrorType = "error_type"
	modelOther     = "other"
)

var defaultLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	errorLogOnce      sync.Once
	metricInstruments instruments
)

// ErrorType enumerates embedding failure categories tracked in metrics.
type ErrorType string

const (
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeServerError  ErrorType = "server_error"
)

type instruments struct {
	generationLatency metric.Float64Histogram
	cacheHitsTotal    metric.Int64Counter
	cacheMissesTotal  metric.Int64Counter
	errorsTotal       metric.Int64Counter
}

// normalizeModelName reduces model cardinality by mapping known model patterns to stable names.
func normalizeModelName(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case normalized == "":
		return modelOther
	case strings.HasPrefix(normalized, "sentence-transformers/"):
		return strings.TrimPrefix(normalized, "sentence-transformers/")
	case strings.HasPrefix(normalized, "text-embedding-3"):
		return "text-embedding-3"
	case strings.HasPrefix(normalized, "text-embedding-ada"):
		return "text-embedding-ada"
	default:
		return modelOther
	}
}

func recordGeneration(ctx context.Context, provider Provider, model string, batchSize int, duration time.Duration) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.generationLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(labelProvider, string(provider)),
		attribute.String(labelModel, normalizeModelName(model)),
		attribute.Int(labelBatchSize, batchSize),
	))
}

func recordCacheHit(ctx context.Context, provider Provider) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, string(provider)),
	))
}

func recordCacheMiss(ctx context.Context, provider Provider) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, string(provider)),
	))
}

func recordError(ctx context.Context, provider Provider, model string, errorType ErrorType) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, string(provider)),
		attribute.String(labelModel, normalizeModelName(model)),
		attribute.String(labelErrorType, string(errorType)),
	))
}

func newInstruments(meter metric.Meter) (instruments, error) {
	latency, err := meter.Float64Histogram(
		"defensight_embedder_generate_seconds",
		metric.WithDescription("Embedding generation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(defaultLatencyBuckets...),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder latency histogram: %w", err)
	}
	hits, err := meter.Int64Counter(
		"defensight_embedder_cache_hits_total",
		metric.WithDescription("Embedding cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder cache hits counter: %w", err)
	}
	misses, err := meter.Int64Counter(
		"defensight_embedder_cache_misses_total",
		metric.WithDescription("Embedding cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder cache misses counter: %w", err)
	}
	errorsCounter, err := meter.Int64Counter(
		"defensight_embedder_errors_total",
		metric.WithDescription("Embedding generation errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder errors counter: %w", err)
	}
	return instruments{
		generationLatency: latency,
		cacheHitsTotal:    hits,
		cacheMissesTotal:  misses,
		errorsTotal:       errorsCounter,
	}, nil
}

func ensureInstruments(ctx context.Context) bool {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		ins, err := newInstruments(meter)
		if err != nil {
			metricsInitErr = err
			return
		}
		metricInstruments = ins
	})
	if metricsInitErr != nil {
		errorLogOnce.Do(func() {
			logger.FromContext(ctx).Error("embedding metrics disabled", "error", metricsInitErr)
		})
		return false
	}
	return true
}
