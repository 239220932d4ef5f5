package bus

import (
	"log/slog"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// Defaults used by New.
const (
	DefaultQueueDepth         = 10
	DefaultListenerQueueDepth = 10
)

type busConfig struct {
	logger             *slog.Logger
	metrics            observability.MetricsRecorder
	spans              observability.SpanManager
	queueDepth         int
	listenerQueueDepth int
	announce           bool
}

func defaultBusConfig() busConfig {
	return busConfig{
		metrics:            observability.NoopMetrics{},
		spans:              observability.NoopSpanManager{},
		queueDepth:         DefaultQueueDepth,
		listenerQueueDepth: DefaultListenerQueueDepth,
	}
}

// Option configures a MessageBus.
type Option func(*busConfig)

// WithLogger sets the logger for bus diagnostics.
// Default: nil (silent)
func WithLogger(logger *slog.Logger) Option {
	return func(c *busConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *busConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the span manager wrapped around each queued event's
// delivery. Default: observability.NoopSpanManager{}
func WithSpanManager(sm observability.SpanManager) Option {
	return func(c *busConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}

// WithQueueDepth bounds the number of events waiting for delivery.
// Events sent while the queue is full are dropped. Default: 10
func WithQueueDepth(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.queueDepth = n
		}
	}
}

// WithListenerQueueDepth bounds the events buffered by a busy QueueIfBusy
// listener. Default: 10
func WithListenerQueueDepth(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.listenerQueueDepth = n
		}
	}
}

// WithAnnounce raises an (IDMessageBusListener, id) event whenever a new
// listener is registered. Default: false
func WithAnnounce(on bool) Option {
	return func(c *busConfig) {
		c.announce = on
	}
}
