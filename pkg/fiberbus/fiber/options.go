package fiber

import (
	"log/slog"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/heap"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// Defaults used by NewScheduler.
const (
	DefaultPoolSize       = 3
	DefaultIdleComponents = 6
	DefaultFiberBlockSize = 64
	DefaultStackFrameSize = 64
)

// schedulerConfig holds scheduler construction settings.
type schedulerConfig struct {
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	allocator      heap.Allocator
	poolSize       int
	idleComponents int
	fiberBlockSize int
	stackFrameSize int
}

func defaultSchedulerConfig() schedulerConfig {
	return schedulerConfig{
		metrics:        observability.NoopMetrics{},
		poolSize:       DefaultPoolSize,
		idleComponents: DefaultIdleComponents,
		fiberBlockSize: DefaultFiberBlockSize,
		stackFrameSize: DefaultStackFrameSize,
	}
}

// Option configures a Scheduler.
type Option func(*schedulerConfig)

// WithLogger sets the logger for scheduler diagnostics.
// Default: nil (silent)
func WithLogger(logger *slog.Logger) Option {
	return func(c *schedulerConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *schedulerConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAllocator sets the heap that fiber control blocks and stack buffers
// are charged to.
// Default: heap.Unlimited()
func WithAllocator(a heap.Allocator) Option {
	return func(c *schedulerConfig) {
		c.allocator = a
	}
}

// WithPoolSize sets how many finished fibers are kept for reuse.
// Fibers released beyond this are freed. Default: 3
func WithPoolSize(n int) Option {
	return func(c *schedulerConfig) {
		if n >= 0 {
			c.poolSize = n
		}
	}
}

// WithIdleComponents sets the number of idle component slots.
// Default: 6
func WithIdleComponents(n int) Option {
	return func(c *schedulerConfig) {
		if n > 0 {
			c.idleComponents = n
		}
	}
}

// WithFiberBlockSize sets the bytes charged to the heap per fiber.
// Default: 64
func WithFiberBlockSize(n int) Option {
	return func(c *schedulerConfig) {
		if n > 0 {
			c.fiberBlockSize = n
		}
	}
}

// WithStackFrameSize sets the bytes assumed per live call frame when a
// suspended fiber's stack is measured. Default: 64
func WithStackFrameSize(n int) Option {
	return func(c *schedulerConfig) {
		if n > 0 {
			c.stackFrameSize = n
		}
	}
}
