package fiberbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/bridge"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/bus"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/config"
	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/fiber"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/heap"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/timer"
)

// Runtime is a started scheduler with its message bus, system timer and
// optional event journal.
type Runtime struct {
	id       string
	settings config.Settings
	base     *slog.Logger
	logger   *slog.Logger

	timer   *timer.Timer
	heap    *heap.Budget
	sched   *fiber.Scheduler
	bus     *bus.MessageBus
	journal bridge.Journal

	ownsDefault bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New builds a runtime from settings and starts its scheduler. The calling
// goroutine becomes the main fiber, so it is the one that must call
// Schedule, Sleep and the other blocking scheduler operations afterwards.
//
// Ticks are not delivered until Start is called.
func New(settings config.Settings, opts ...Option) (*Runtime, error) {
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base := cfg.logger
	if base == nil && cfg.logOutput != nil {
		base = observability.NewLogger(cfg.logOutput, settings.LogLevel)
	}

	r := &Runtime{
		id:       uuid.New().String(),
		settings: settings,
		base:     base,
		timer:    cfg.timer,
	}
	r.logger = observability.EnrichLogger(base, r.id, "runtime")
	if r.timer == nil {
		r.timer = timer.New(settings.TickPeriod)
	}
	if settings.HeapSize > 0 {
		r.heap = heap.NewBudget(settings.HeapSize)
	} else {
		r.heap = heap.Unlimited()
	}

	var metrics observability.MetricsRecorder = observability.NoopMetrics{}
	if settings.Metrics {
		metrics = observability.NewMetricsRecorder()
	}
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if settings.Tracing {
		spans = observability.NewSpanManager()
	}

	r.sched = fiber.NewScheduler(
		fiber.WithLogger(observability.EnrichLogger(base, r.id, "scheduler")),
		fiber.WithMetrics(metrics),
		fiber.WithAllocator(r.heap),
		fiber.WithPoolSize(settings.FiberPoolSize),
		fiber.WithIdleComponents(settings.IdleComponents),
		fiber.WithFiberBlockSize(settings.FiberBlockSize),
		fiber.WithStackFrameSize(settings.StackFrameSize),
	)
	r.bus = bus.New(r.sched,
		bus.WithLogger(observability.EnrichLogger(base, r.id, "bus")),
		bus.WithMetrics(metrics),
		bus.WithSpanManager(spans),
		bus.WithQueueDepth(settings.BusQueueDepth),
		bus.WithListenerQueueDepth(settings.ListenerQueueDepth),
		bus.WithAnnounce(settings.AnnounceListeners),
	)

	r.journal = cfg.journal
	if r.journal == nil && settings.JournalPath != "" {
		j, err := bridge.NewSQLiteJournal(settings.JournalPath, observability.EnrichLogger(base, r.id, "journal"))
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		r.journal = j
	}

	if err := r.initScheduler(); err != nil {
		if r.journal != nil {
			_ = r.journal.Close()
		}
		return nil, err
	}
	r.timer.AddCallback(r.sched.Tick)
	if r.journal != nil {
		r.bus.SetBridge(r.journal)
	}

	if cfg.defaultModel {
		event.SetDefaultModel(r.bus)
		event.SetClock(r.timer.Now)
		r.ownsDefault = true
	}

	observability.LogRuntimeStart(r.logger, r.timer.Period(), settings.HeapSize, r.journal != nil)
	return r, nil
}

// NewFromFile loads settings from a YAML or JSON file and calls New.
func NewFromFile(path string, opts ...Option) (*Runtime, error) {
	settings, err := config.LoadSettingsFile(path)
	if err != nil {
		return nil, err
	}
	return New(settings, opts...)
}

// initScheduler turns the bootstrap panic into an error.
func (r *Runtime) initScheduler() (err error) {
	defer func() {
		if p := recover(); p != nil {
			var fe *fberrors.FiberError
			if e, ok := p.(error); ok && errors.As(e, &fe) {
				err = fe
				return
			}
			panic(p)
		}
	}()
	r.sched.Init(r.bus, r.timer.Now)
	return nil
}

// Start drives the system timer from a background goroutine until ctx is
// cancelled or Close is called. It returns ErrBusy if already started.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fberrors.ErrCancelled
	}
	if r.cancel != nil {
		return fberrors.ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.timer.Run(ctx)
	}(r.done)
	return nil
}

// Close stops the timer and closes the journal. Fibers that are still
// parked stay parked. Calling Close more than once is safe.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if r.ownsDefault && event.DefaultModel() == event.EventModel(r.bus) {
		event.SetDefaultModel(nil)
		event.SetClock(nil)
	}

	var err error
	if r.journal != nil {
		err = r.journal.Close()
	}
	observability.LogRuntimeStop(r.logger, err)
	return err
}

// Service creates a bridge service over the runtime's bus and registers it
// as an idle component so disconnects are noticed. peer receives the
// events a connected client asked for.
func (r *Runtime) Service(peer bridge.Sink) (*bridge.Service, error) {
	svc := bridge.NewService(r.bus, peer, observability.EnrichLogger(r.base, r.id, "bridge"))
	if err := r.sched.AddIdleComponent(svc); err != nil {
		return nil, fmt.Errorf("register bridge service: %w", err)
	}
	return svc, nil
}

// ID returns the runtime's unique id, also attached to its log lines.
func (r *Runtime) ID() string {
	return r.id
}

// Settings returns the settings the runtime was built from.
func (r *Runtime) Settings() config.Settings {
	return r.settings
}

// Scheduler returns the fiber scheduler.
func (r *Runtime) Scheduler() *fiber.Scheduler {
	return r.sched
}

// Bus returns the message bus.
func (r *Runtime) Bus() *bus.MessageBus {
	return r.bus
}

// Timer returns the system timer.
func (r *Runtime) Timer() *timer.Timer {
	return r.timer
}

// Heap returns the heap fibers and stacks are charged to.
func (r *Runtime) Heap() *heap.Budget {
	return r.heap
}

// Journal returns the event journal, or nil if none is configured.
func (r *Runtime) Journal() bridge.Journal {
	return r.journal
}

// Logger returns the runtime's logger. It is nil when logging is off.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}
