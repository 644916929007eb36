// Package telemetry defines the logging, metrics, and tracing seams used
// throughout the engine. Components accept these interfaces rather than a
// concrete library so tests can inject no-op implementations and production
// builds can wire OpenTelemetry/Clue without the core importing either
// directly at every call site.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log lines. keyvals follow the
	// alternating key/value convention (k1, v1, k2, v2, ...).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. tags follow the
	// alternating key/value convention.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and retrieves spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of tracing work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// ToolTelemetry captures per-invocation observability metadata surfaced
	// alongside a tool result: token counts, model identifiers, retry
	// attempts, and provider-specific metrics.
	ToolTelemetry struct {
		Model        string `json:"model,omitempty"`
		ModelClass   string `json:"model_class,omitempty"`
		RetryAttempt int    `json:"retry_attempt,omitempty"`
		DurationMS   int64  `json:"duration_ms,omitempty"`
	}
)
