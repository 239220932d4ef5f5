package config

import (
	"time"
)

// Settings configures a runtime.
type Settings struct {
	// TickPeriod is how often the system timer fires. Default: 6ms
	TickPeriod time.Duration
	// FiberPoolSize is how many finished fibers are kept for reuse. Default: 3
	FiberPoolSize int
	// IdleComponents is the number of idle component slots. Default: 6
	IdleComponents int
	// BusQueueDepth bounds the message bus event queue. Default: 10
	BusQueueDepth int
	// ListenerQueueDepth bounds each busy listener's buffer. Default: 10
	ListenerQueueDepth int
	// HeapSize is the byte budget for fibers and stacks; 0 is unlimited.
	HeapSize int
	// FiberBlockSize is the bytes charged per fiber. Default: 64
	FiberBlockSize int
	// StackFrameSize is the bytes charged per live call frame. Default: 64
	StackFrameSize int
	// AnnounceListeners raises an event for each new listener. Default: false
	AnnounceListeners bool
	// JournalPath enables the SQLite event journal when set. ":memory:" is allowed.
	JournalPath string
	// LogLevel is one of debug, info, warn or error. Default: info
	LogLevel string
	// Metrics enables OpenTelemetry metrics. Default: false
	Metrics bool
	// Tracing enables OpenTelemetry tracing. Default: false
	Tracing bool
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		TickPeriod:         6 * time.Millisecond,
		FiberPoolSize:      3,
		IdleComponents:     6,
		BusQueueDepth:      10,
		ListenerQueueDepth: 10,
		FiberBlockSize:     64,
		StackFrameSize:     64,
		LogLevel:           "info",
	}
}

// LoadSettings reads settings from cfg, falling back to DefaultSettings for
// anything missing or out of range.
//
// Keys: tick_period, fiber_pool_size, idle_components, bus_queue_depth,
// listener_queue_depth, heap_size, fiber_block_size, stack_frame_size,
// announce_listeners, journal_path, log_level, metrics, tracing.
func LoadSettings(cfg Config) Settings {
	d := DefaultSettings()
	s := Settings{
		TickPeriod:         cfg.Duration("tick_period", d.TickPeriod),
		FiberPoolSize:      cfg.Int("fiber_pool_size", d.FiberPoolSize),
		IdleComponents:     cfg.Int("idle_components", d.IdleComponents),
		BusQueueDepth:      cfg.Int("bus_queue_depth", d.BusQueueDepth),
		ListenerQueueDepth: cfg.Int("listener_queue_depth", d.ListenerQueueDepth),
		HeapSize:           cfg.Int("heap_size", d.HeapSize),
		FiberBlockSize:     cfg.Int("fiber_block_size", d.FiberBlockSize),
		StackFrameSize:     cfg.Int("stack_frame_size", d.StackFrameSize),
		AnnounceListeners:  cfg.Bool("announce_listeners", d.AnnounceListeners),
		JournalPath:        cfg.String("journal_path", d.JournalPath),
		LogLevel:           cfg.String("log_level", d.LogLevel),
		Metrics:            cfg.Bool("metrics", d.Metrics),
		Tracing:            cfg.Bool("tracing", d.Tracing),
	}

	if s.TickPeriod <= 0 {
		s.TickPeriod = d.TickPeriod
	}
	if s.FiberPoolSize < 0 {
		s.FiberPoolSize = d.FiberPoolSize
	}
	positive := []*int{&s.IdleComponents, &s.BusQueueDepth, &s.ListenerQueueDepth, &s.FiberBlockSize, &s.StackFrameSize}
	defaults := []int{d.IdleComponents, d.BusQueueDepth, d.ListenerQueueDepth, d.FiberBlockSize, d.StackFrameSize}
	for i, p := range positive {
		if *p <= 0 {
			*p = defaults[i]
		}
	}
	if s.HeapSize < 0 {
		s.HeapSize = 0
	}
	return s
}

// LoadSettingsFile reads settings from a YAML or JSON file.
func LoadSettingsFile(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return LoadSettings(cfg), nil
}
