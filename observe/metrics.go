package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records run, cache and retry activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRun records a completed operation invocation with duration and
	// error status.
	RecordRun(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordCacheEvent records a cache engine event (hit, miss, stale, ...).
	RecordCacheEvent(ctx context.Context, key, kind string)

	// RecordRetry records a retried attempt.
	RecordRetry(ctx context.Context, meta OpMeta, attempt int)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	runCount     metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	cacheEvents  metric.Int64Counter
	retryCount   metric.Int64Counter
}

// NewMetrics creates a Metrics instance recording through the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	runCount, err := meter.Int64Counter(
		"op.runs.total",
		metric.WithDescription("Total number of operation invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"op.runs.errors",
		metric.WithDescription("Total number of failed operation invocations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"op.run.duration_ms",
		metric.WithDescription("Operation invocation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheEvents, err := meter.Int64Counter(
		"cache.events.total",
		metric.WithDescription("Cache engine events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"resilience.retries.total",
		metric.WithDescription("Total number of retried attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		runCount:     runCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		cacheEvents:  cacheEvents,
		retryCount:   retryCount,
	}, nil
}

// RecordRun records metrics for an operation invocation.
func (m *metricsImpl) RecordRun(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("op.name", meta.Name),
	}
	if meta.Kind != "" {
		attrs = append(attrs, attribute.String("op.kind", meta.Kind))
	}

	opt := metric.WithAttributes(attrs...)

	m.runCount.Add(ctx, 1, opt)

	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordCacheEvent increments the cache event counter for the given kind.
func (m *metricsImpl) RecordCacheEvent(ctx context.Context, key, kind string) {
	m.cacheEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.event", kind),
	))
}

// RecordRetry increments the retry counter.
func (m *metricsImpl) RecordRetry(ctx context.Context, meta OpMeta, attempt int) {
	m.retryCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op.name", meta.Name),
		attribute.Int("retry.attempt", attempt),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordRun(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
}
func (m *noopMetrics) RecordCacheEvent(ctx context.Context, key, kind string)  {}
func (m *noopMetrics) RecordRetry(ctx context.Context, meta OpMeta, attempt int) {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return &noopMetrics{} }
