package ledger

import (
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
// Implementations are expected to accept slog-style alternating key/value args.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting sync and storage performance metrics.
// The interface is dependency-free so users can integrate any metrics backend
// (OpenTelemetry, Prometheus, statsd) by implementing it.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}
