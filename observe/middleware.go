package observe

import (
	"context"
	"time"

	"github.com/jonwraymond/taskops"
)

// Middleware decorates operation invocations with observability
// (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Instrument returns an operation safe for concurrent use.
//   - Context: propagates context through tracing spans.
//   - Errors: errors from the wrapped operation are recorded and propagated
//     unchanged; cancellation is logged at debug level, not as a failure.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Instrument wraps op with a span, run metrics and a completion log line.
func Instrument[T any](m *Middleware, meta OpMeta, op taskops.Operation[T]) taskops.Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := op(ctx, args...)
		duration := time.Since(start)

		m.tracer.EndSpan(span, err)
		m.metrics.RecordRun(ctx, meta, duration, err)

		opLogger := m.logger.WithOp(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}

		switch {
		case err == nil:
			opLogger.Info(ctx, "operation completed", fields...)
		case taskops.IsCanceled(err):
			opLogger.Debug(ctx, "operation canceled", fields...)
		default:
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			opLogger.Error(ctx, "operation failed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(newTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// NopMiddleware returns a Middleware whose components all discard their
// input. Useful as a default for optional instrumentation.
func NopMiddleware() *Middleware {
	return NewMiddleware(newNoopTracer(), NopMetrics(), NopLogger())
}
