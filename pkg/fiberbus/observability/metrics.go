package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Drop reasons reported with RecordEventDropped.
const (
	DropBusQueueFull      = "bus_queue_full"
	DropListenerBusy      = "listener_busy"
	DropListenerQueueFull = "listener_queue_full"
)

// MetricsRecorder records runtime metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordFiberCreated records a fiber handed out by CreateFiber or a fork.
	RecordFiberCreated(ctx context.Context, pooled bool)

	// RecordFiberForked records a blocked handler materialising a fiber.
	RecordFiberForked(ctx context.Context)

	// RecordFiberRecycled records a finished fiber returned to the pool (or freed).
	RecordFiberRecycled(ctx context.Context, pooled bool)

	// RecordContextSwitch records one switch between fibers.
	RecordContextSwitch(ctx context.Context)

	// RecordEventQueued records an event entering the bus queue.
	RecordEventQueued(ctx context.Context, source uint16)

	// RecordEventDropped records an event discarded by backpressure.
	RecordEventDropped(ctx context.Context, reason string)

	// RecordEventProcessed records one Process call and its duration.
	RecordEventProcessed(ctx context.Context, source uint16, duration time.Duration)

	// RecordStackGrowth records a stack buffer reallocation to size bytes.
	RecordStackGrowth(ctx context.Context, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	fibersCreated   metric.Int64Counter
	fibersForked    metric.Int64Counter
	fibersRecycled  metric.Int64Counter
	contextSwitches metric.Int64Counter
	eventsQueued    metric.Int64Counter
	eventsDropped   metric.Int64Counter
	eventLatency    metric.Float64Histogram
	stackSize       metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("fiberbus")

	fibersCreated, err := meter.Int64Counter("fiberbus.fiber.created",
		metric.WithDescription("Number of fibers handed out"),
	)
	if err != nil {
		return nil, err
	}

	fibersForked, err := meter.Int64Counter("fiberbus.fiber.forked",
		metric.WithDescription("Number of handlers that blocked under fork-on-block"),
	)
	if err != nil {
		return nil, err
	}

	fibersRecycled, err := meter.Int64Counter("fiberbus.fiber.recycled",
		metric.WithDescription("Number of fibers released after completion"),
	)
	if err != nil {
		return nil, err
	}

	contextSwitches, err := meter.Int64Counter("fiberbus.scheduler.context_switches",
		metric.WithDescription("Number of fiber context switches"),
	)
	if err != nil {
		return nil, err
	}

	eventsQueued, err := meter.Int64Counter("fiberbus.bus.events_queued",
		metric.WithDescription("Number of events queued on the message bus"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter("fiberbus.bus.events_dropped",
		metric.WithDescription("Number of events discarded by backpressure"),
	)
	if err != nil {
		return nil, err
	}

	eventLatency, err := meter.Float64Histogram("fiberbus.bus.process_latency_ms",
		metric.WithDescription("Event processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stackSize, err := meter.Int64Histogram("fiberbus.fiber.stack_size_bytes",
		metric.WithDescription("Stack buffer size after growth"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		fibersCreated:   fibersCreated,
		fibersForked:    fibersForked,
		fibersRecycled:  fibersRecycled,
		contextSwitches: contextSwitches,
		eventsQueued:    eventsQueued,
		eventsDropped:   eventsDropped,
		eventLatency:    eventLatency,
		stackSize:       stackSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordFiberCreated(ctx context.Context, pooled bool) {
	m.fibersCreated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("pooled", pooled)))
}

func (m *otelMetrics) RecordFiberForked(ctx context.Context) {
	m.fibersForked.Add(ctx, 1)
}

func (m *otelMetrics) RecordFiberRecycled(ctx context.Context, pooled bool) {
	m.fibersRecycled.Add(ctx, 1, metric.WithAttributes(attribute.Bool("pooled", pooled)))
}

func (m *otelMetrics) RecordContextSwitch(ctx context.Context) {
	m.contextSwitches.Add(ctx, 1)
}

func (m *otelMetrics) RecordEventQueued(ctx context.Context, source uint16) {
	m.eventsQueued.Add(ctx, 1, metric.WithAttributes(attribute.Int("source", int(source))))
}

func (m *otelMetrics) RecordEventDropped(ctx context.Context, reason string) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *otelMetrics) RecordEventProcessed(ctx context.Context, source uint16, duration time.Duration) {
	m.eventLatency.Record(ctx, float64(duration.Microseconds())/1000,
		metric.WithAttributes(attribute.Int("source", int(source))))
}

func (m *otelMetrics) RecordStackGrowth(ctx context.Context, sizeBytes int64) {
	m.stackSize.Record(ctx, sizeBytes)
}
