// Package event provides the event value raised by components and the
// listener callback representation shared by the scheduler and the message bus.
//
// Events are small immutable values: a 16-bit source id, a 16-bit
// component-specific value and the tick at which they were created. Zero is
// the wildcard for both the source and the value.
//
//	evt := event.New(IDButtonA, ButtonEvtClick) // created and queued on the default model
//
//	pending := event.New(IDAccel, AccelEvtShake, event.WithLaunchMode(event.CreateOnly))
//	// ... fill in later ...
//	pending.Fire()
package event

import (
	"fmt"
	"sync/atomic"
	"time"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
)

// Wildcards.
const (
	// IDAny matches every event source.
	IDAny uint16 = 0
	// ValueAny matches every event value.
	ValueAny uint16 = 0
)

// Reserved event sources.
const (
	// IDMessageBusListener is raised (when enabled) each time a listener is
	// registered; the value carries the registered id.
	IDMessageBusListener uint16 = 1021

	// IDNotifyOne wakes at most one fiber waiting on the IDNotify channel.
	IDNotifyOne uint16 = 1022

	// IDNotify is the general purpose wait/notify channel.
	IDNotify uint16 = 1023
)

// Event is something that happened. Equality is structural.
type Event struct {
	Source    uint16
	Value     uint16
	Timestamp uint64
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("event(%d,%d)@%d", e.Source, e.Value, e.Timestamp)
}

// Matches reports whether a filter of (id, value) accepts this event.
// Zero in either position of the filter is a wildcard.
func (e Event) Matches(id, value uint16) bool {
	return (id == IDAny || id == e.Source) && (value == ValueAny || value == e.Value)
}

// LaunchMode selects what New does with the event after building it.
type LaunchMode int

const (
	// CreateOnly builds the event without raising it.
	CreateOnly LaunchMode = iota
	// CreateAndQueue raises the event through EventModel.Send.
	CreateAndQueue
	// CreateAndFire delivers the event synchronously through EventModel.Process.
	CreateAndFire
)

// DefaultLaunchMode is used by New and Fire when no mode is given.
const DefaultLaunchMode = CreateAndQueue

// EventModel is anything events can be raised on and listened to.
// The message bus is the standard implementation.
type EventModel interface {
	// Send queues an event for delivery. Safe to call from interrupt context.
	Send(evt Event) error

	// Process delivers an event to matching listeners immediately.
	Process(evt Event) error

	// Listen registers a callback for events matching (id, value).
	Listen(id, value uint16, cb Callback, flags Flags) error

	// Ignore removes a registration created by Listen.
	Ignore(id, value uint16, cb Callback) error
}

type modelHolder struct {
	model EventModel
}

var defaultModel atomic.Pointer[modelHolder]

// SetDefaultModel sets the model used by Fire and New.
// Passing nil clears it.
func SetDefaultModel(m EventModel) {
	if m == nil {
		defaultModel.Store(nil)
		return
	}
	defaultModel.Store(&modelHolder{model: m})
}

// DefaultModel returns the model used by Fire and New, or nil.
func DefaultModel() EventModel {
	h := defaultModel.Load()
	if h == nil {
		return nil
	}
	return h.model
}

// Clock supplies event timestamps in milliseconds.
type Clock func() uint64

var (
	epoch = time.Now()
	clock atomic.Pointer[Clock]
)

// SetClock replaces the timestamp source. Passing nil restores the default,
// which counts milliseconds since process start.
func SetClock(c Clock) {
	if c == nil {
		clock.Store(nil)
		return
	}
	clock.Store(&c)
}

// Now returns the current event timestamp.
func Now() uint64 {
	if c := clock.Load(); c != nil {
		return (*c)()
	}
	return uint64(time.Since(epoch).Milliseconds())
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	timestamp    uint64
	hasTimestamp bool
	mode         LaunchMode
	model        EventModel
}

// WithTimestamp sets a specific timestamp (default: Now()).
func WithTimestamp(ts uint64) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = ts
		cfg.hasTimestamp = true
	}
}

// WithLaunchMode sets what happens after construction (default: CreateAndQueue).
func WithLaunchMode(mode LaunchMode) Option {
	return func(cfg *eventConfig) {
		cfg.mode = mode
	}
}

// WithModel raises the event on m instead of the default model.
func WithModel(m EventModel) Option {
	return func(cfg *eventConfig) {
		cfg.model = m
	}
}

// New creates an event and, unless the launch mode is CreateOnly, raises it.
// Raising is best effort: with no model configured the event is only created.
// Use CreateOnly and FireOn when the outcome matters.
func New(source, value uint16, opts ...Option) Event {
	cfg := &eventConfig{mode: DefaultLaunchMode}
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.hasTimestamp {
		cfg.timestamp = Now()
	}

	evt := Event{Source: source, Value: value, Timestamp: cfg.timestamp}
	if cfg.mode != CreateOnly {
		m := cfg.model
		if m == nil {
			m = DefaultModel()
		}
		_ = evt.FireOn(m, cfg.mode)
	}
	return evt
}

// Fire raises the event on the default model using the default launch mode.
func (e Event) Fire() error {
	return e.FireOn(DefaultModel(), DefaultLaunchMode)
}

// FireOn raises the event on m. CreateAndQueue sends, CreateAndFire processes
// synchronously and CreateOnly does nothing.
func (e Event) FireOn(m EventModel, mode LaunchMode) error {
	if m == nil {
		return fberrors.ErrNotSupported
	}
	switch mode {
	case CreateAndQueue:
		return m.Send(e)
	case CreateAndFire:
		return m.Process(e)
	case CreateOnly:
		return nil
	default:
		return fberrors.ErrInvalidParameter
	}
}
