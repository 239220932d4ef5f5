package fiberbus

import (
	"io"
	"log/slog"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/bridge"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/timer"
)

// runtimeConfig holds construction options for a Runtime.
type runtimeConfig struct {
	logger       *slog.Logger
	logOutput    io.Writer
	timer        *timer.Timer
	journal      bridge.Journal
	defaultModel bool
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		defaultModel: true,
	}
}

// Option configures a Runtime.
type Option func(*runtimeConfig)

// WithLogger sets the logger every component logs through.
// Default: nil (silent)
//
// Each component receives a child logger carrying runtime_id and component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithLogOutput builds a JSON logger on w at Settings.LogLevel.
// Ignored when WithLogger is also given.
func WithLogOutput(w io.Writer) Option {
	return func(c *runtimeConfig) {
		c.logOutput = w
	}
}

// WithTimer supplies the system timer instead of creating one from
// Settings.TickPeriod. Pass timer.NewManual() to drive ticks by hand.
func WithTimer(t *timer.Timer) Option {
	return func(c *runtimeConfig) {
		if t != nil {
			c.timer = t
		}
	}
}

// WithJournal records every processed event to j instead of the journal
// named by Settings.JournalPath. The runtime closes j on Close.
func WithJournal(j bridge.Journal) Option {
	return func(c *runtimeConfig) {
		c.journal = j
	}
}

// WithDefaultModel controls whether the runtime installs its bus and clock
// as the package defaults used by event.New and Event.Fire.
// Default: true
func WithDefaultModel(on bool) Option {
	return func(c *runtimeConfig) {
		c.defaultModel = on
	}
}
