// Package observe provides structured logging, OpenTelemetry metrics and
// tracing for task and cache activity.
//
// It exposes an Observer that owns the configured providers, a minimal
// Logger interface used across the module for diagnostic reporting, and an
// Instrument wrapper that decorates an operation with a span, run metrics
// and a completion log line.
package observe
