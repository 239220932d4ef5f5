// Package observability provides structured logging, metrics and tracing
// for the fiber runtime.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every log helper accepts a nil logger and returns immediately.
package observability

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// ParseLevel maps debug, info, warn or error (any case) to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger writing to w at the named level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// EnrichLogger adds runtime context to a logger.
// Returns a new logger with runtime_id and component fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, rt.ID(), "bus")
//	enriched.Debug("queue full") // includes runtime_id, component
func EnrichLogger(logger *slog.Logger, runtimeID, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("runtime_id", runtimeID),
		slog.String("component", component),
	)
}

// LogRuntimeStart logs a runtime coming up.
func LogRuntimeStart(logger *slog.Logger, tickPeriod time.Duration, heapSize int, journal bool) {
	if logger == nil {
		return
	}
	logger.Info("runtime started",
		slog.Duration("tick_period", tickPeriod),
		slog.Int("heap_size", heapSize),
		slog.Bool("journal", journal),
	)
}

// LogRuntimeStop logs a runtime shutting down. err is the journal close
// error, if any.
func LogRuntimeStop(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("runtime stopped", slog.String("error", err.Error()))
		return
	}
	logger.Info("runtime stopped")
}

// LogSchedulerStart logs scheduler initialisation.
func LogSchedulerStart(logger *slog.Logger, poolSize, idleComponents int) {
	if logger == nil {
		return
	}
	logger.Info("scheduler started",
		slog.Int("pool_size", poolSize),
		slog.Int("idle_components", idleComponents),
	)
}

// LogFiberCreated logs a fiber taken from the heap or the pool.
func LogFiberCreated(logger *slog.Logger, fiber string, pooled bool) {
	if logger == nil {
		return
	}
	logger.Debug("fiber created",
		slog.String("fiber", fiber),
		slog.Bool("pooled", pooled),
	)
}

// LogFiberForked logs a blocked handler being moved into a fiber of its own.
func LogFiberForked(logger *slog.Logger, parent, child string) {
	if logger == nil {
		return
	}
	logger.Debug("fiber forked",
		slog.String("parent", parent),
		slog.String("child", child),
	)
}

// LogFiberReleased logs a fiber finishing and being recycled or freed.
func LogFiberReleased(logger *slog.Logger, fiber string, pooled bool) {
	if logger == nil {
		return
	}
	logger.Debug("fiber released",
		slog.String("fiber", fiber),
		slog.Bool("pooled", pooled),
	)
}

// LogForkFallback logs fork-on-block running without a fiber of its own
// because allocation failed.
func LogForkFallback(logger *slog.Logger, parent string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("fork-on-block allocation failed, continuing on caller context",
		slog.String("parent", parent),
		slog.String("error", err.Error()),
	)
}

// LogStackGrowth logs a stack buffer being replaced by a larger one.
func LogStackGrowth(logger *slog.Logger, fiber string, from, to int) {
	if logger == nil {
		return
	}
	logger.Debug("stack grown",
		slog.String("fiber", fiber),
		slog.Int("from_bytes", from),
		slog.Int("to_bytes", to),
	)
}

// LogStackGrowthError logs a failed stack growth (non-fatal).
func LogStackGrowthError(logger *slog.Logger, fiber string, size int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("stack growth failed, keeping existing buffer",
		slog.String("fiber", fiber),
		slog.Int("size_bytes", size),
		slog.String("error", err.Error()),
	)
}

// LogBootstrapFailure logs the unrecoverable failure to create the first fibers.
func LogBootstrapFailure(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("scheduler bootstrap failed",
		slog.String("error", err.Error()),
	)
}

// LogEventDropped logs an event discarded by backpressure.
func LogEventDropped(logger *slog.Logger, source, value uint16, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("event dropped",
		slog.Int("source", int(source)),
		slog.Int("value", int(value)),
		slog.String("reason", reason),
	)
}

// LogListenerAdded logs a new listener registration.
func LogListenerAdded(logger *slog.Logger, id, value uint16, flags uint16) {
	if logger == nil {
		return
	}
	logger.Debug("listener added",
		slog.Int("id", int(id)),
		slog.Int("value", int(value)),
		slog.Int("flags", int(flags)),
	)
}

// LogListenerRemoved logs a listener being swept from the chain.
func LogListenerRemoved(logger *slog.Logger, id, value uint16) {
	if logger == nil {
		return
	}
	logger.Debug("listener removed",
		slog.Int("id", int(id)),
		slog.Int("value", int(value)),
	)
}

// LogBridgeError logs a bridge failure (non-fatal).
func LogBridgeError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("bridge failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogComponentRejected logs an idle component the scheduler had no slot for.
func LogComponentRejected(logger *slog.Logger, component string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("idle component not registered",
		slog.String("component", component),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
