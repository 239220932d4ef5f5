package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordFiberCreated(context.Context, bool)                    {}
func (NoopMetrics) RecordFiberForked(context.Context)                           {}
func (NoopMetrics) RecordFiberRecycled(context.Context, bool)                   {}
func (NoopMetrics) RecordContextSwitch(context.Context)                         {}
func (NoopMetrics) RecordEventQueued(context.Context, uint16)                   {}
func (NoopMetrics) RecordEventDropped(context.Context, string)                  {}
func (NoopMetrics) RecordEventProcessed(context.Context, uint16, time.Duration) {}
func (NoopMetrics) RecordStackGrowth(context.Context, int64)                    {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartProcessSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartProcessSpan(ctx context.Context, _, _ uint16) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
