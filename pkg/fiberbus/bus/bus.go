// Package bus implements the message bus: an ordered chain of listeners and
// a FIFO of events waiting to be delivered to them.
//
// Send never runs ordinary handlers on the caller's stack. It runs the
// immediate listeners (NonBlocking|Urgent) straight away, then queues the
// event if anything else still wants it. The idle task drains the queue
// through IdleTick, handing each matching listener to the scheduler's
// Invoke so that a handler only gets a fiber of its own if it blocks.
//
// Delivery order is fixed: events leave the queue in the order they were
// sent, and within one event listeners registered for its source run before
// listeners registered for every source, each group ascending by value.
package bus

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/eapache/queue"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/bridge"
	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/fiber"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

var (
	_ event.EventModel    = (*MessageBus)(nil)
	_ bridge.Registry     = (*MessageBus)(nil)
	_ fiber.IdleComponent = (*MessageBus)(nil)
)

// queuedEvent is a slot in the event FIFO. A slot is reserved before the
// immediate listeners run and filled in afterwards, so events raised by
// those listeners queue behind it.
type queuedEvent struct {
	evt   event.Event
	ready bool
}

type pass int

const (
	passUrgent pass = iota // immediate listeners, from Send
	passQueued             // everything else, from IdleTick
	passAll                // every listener, from Process
)

// MessageBus routes events to listeners. It is safe to Send from any
// goroutine; everything else should be called from the running fiber.
type MessageBus struct {
	cfg   busConfig
	sched *fiber.Scheduler

	mu        sync.Mutex
	listeners []*listener // sorted ascending by (id, value)
	queue     *queue.Queue
	sink      bridge.Sink
}

// New creates a message bus delivering through sched and registers it as
// one of sched's idle components. With a nil or stopped scheduler every
// listener is treated as immediate.
func New(sched *fiber.Scheduler, opts ...Option) *MessageBus {
	cfg := defaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &MessageBus{
		cfg:   cfg,
		sched: sched,
		queue: queue.New(),
	}
	if sched != nil {
		if err := sched.AddIdleComponent(b); err != nil {
			observability.LogComponentRejected(cfg.logger, "message bus", err)
		}
	}
	return b
}

func (b *MessageBus) running() bool {
	return b.sched != nil && b.sched.Running()
}

// SetBridge installs a sink that receives every event after local delivery.
// Passing nil removes it.
func (b *MessageBus) SetBridge(sink bridge.Sink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// Send raises evt. Immediate listeners run before Send returns; the event
// is queued for everyone else. When the queue is full the queued part of
// the delivery is dropped. Send does not report drops as errors.
func (b *MessageBus) Send(evt event.Event) error {
	running := b.running()

	b.mu.Lock()
	deferred := b.sink != nil || b.hasDeferred(evt, running)
	var slot *queuedEvent
	if deferred && b.queue.Length() < b.cfg.queueDepth {
		slot = &queuedEvent{}
		b.queue.Add(slot)
	}
	b.mu.Unlock()

	b.deliver(evt, passUrgent, running)

	if !deferred {
		return nil
	}
	if slot == nil {
		b.dropped(evt, observability.DropBusQueueFull)
		return nil
	}

	b.mu.Lock()
	slot.evt = evt
	slot.ready = true
	b.mu.Unlock()

	b.cfg.metrics.RecordEventQueued(context.Background(), evt.Source)
	if b.sched != nil {
		b.sched.SignalDataReady()
	}
	return nil
}

// hasDeferred reports whether a listener outside the immediate pass wants evt.
// Callers hold b.mu.
func (b *MessageBus) hasDeferred(evt event.Event, running bool) bool {
	if !running {
		return false
	}
	for _, l := range b.listeners {
		if !l.deleting && !l.flags.IsImmediate() && evt.Matches(l.id, l.value) {
			return true
		}
	}
	return false
}

// Process delivers evt to every matching listener, immediate or not, and
// then to the bridge, before returning. Call it from the running fiber.
func (b *MessageBus) Process(evt event.Event) error {
	b.process(evt, passAll)
	return nil
}

// IdleTick sweeps ignored listeners, then delivers queued events for as long
// as no fiber is runnable. The idle task calls it.
func (b *MessageBus) IdleTick() {
	b.sweep()

	for {
		evt, ok := b.dequeue()
		if !ok {
			return
		}
		b.process(evt, passQueued)

		// Stop as soon as delivery produced work, so fewer handlers are
		// blocked at once.
		if b.sched != nil && !b.sched.RunQueueEmpty() {
			return
		}
	}
}

func (b *MessageBus) dequeue() (event.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queue.Length() == 0 {
		return event.Event{}, false
	}
	slot := b.queue.Peek().(*queuedEvent)
	if !slot.ready {
		// Its sender is still running immediate listeners.
		return event.Event{}, false
	}
	b.queue.Remove()
	return slot.evt, true
}

// process runs one non-urgent delivery and forwards the event to the bridge.
func (b *MessageBus) process(evt event.Event, p pass) {
	ctx, span := b.cfg.spans.StartProcessSpan(context.Background(), evt.Source, evt.Value)
	done := observability.TimedOperation()

	b.deliver(evt, p, b.running())

	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.Forward(evt)
		b.cfg.spans.AddSpanEvent(ctx, "bridge.forward")
	}

	b.cfg.metrics.RecordEventProcessed(ctx, evt.Source, done())
	b.cfg.spans.EndSpanWithError(span, nil)
}

// deliver hands evt to the listeners selected by p.
func (b *MessageBus) deliver(evt event.Event, p pass, running bool) {
	for _, l := range b.match(evt) {
		urgent := !running || l.flags.IsImmediate()
		if (p == passUrgent && !urgent) || (p == passQueued && urgent) {
			continue
		}

		b.mu.Lock()
		deleting := l.deleting
		b.mu.Unlock()
		if deleting {
			continue
		}

		if !running || l.flags&event.NonBlocking != 0 {
			b.dispatch(l, evt)
			continue
		}
		if err := b.sched.Invoke(func() { b.dispatch(l, evt) }); err != nil {
			b.dispatch(l, evt)
		}
	}
}

// match returns the listeners for evt in delivery order: those registered
// for its source, then those registered for any source.
func (b *MessageBus) match(evt event.Event) []*listener {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*listener
	for _, l := range b.listeners {
		if l.id > evt.Source {
			break
		}
		if l.id == evt.Source && evt.Matches(l.id, l.value) {
			out = append(out, l)
		}
	}
	if evt.Source == event.IDAny {
		return out
	}
	for _, l := range b.listeners {
		if l.id != event.IDAny {
			break
		}
		if evt.Matches(l.id, l.value) {
			out = append(out, l)
		}
	}
	return out
}

// dispatch calls the listener, applying its busy policy.
func (b *MessageBus) dispatch(l *listener, evt event.Event) {
	b.mu.Lock()
	if l.busy() {
		switch {
		case l.flags&event.DropIfBusy != 0:
			b.mu.Unlock()
			b.dropped(evt, observability.DropListenerBusy)
			return
		case l.flags&event.QueueIfBusy != 0:
			ok := l.enqueue(evt, b.cfg.listenerQueueDepth)
			b.mu.Unlock()
			if !ok {
				b.dropped(evt, observability.DropListenerQueueFull)
			}
			return
		}
	}
	l.active++
	b.mu.Unlock()

	for {
		l.cb.Call(evt)

		b.mu.Lock()
		more := false
		if l.flags&event.QueueIfBusy != 0 {
			evt, more = l.next()
		}
		if !more {
			l.active--
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		// Let other fibers in between buffered events.
		if l.flags&event.NonBlocking == 0 && b.sched != nil {
			b.sched.Schedule()
		}
	}
}

func (b *MessageBus) dropped(evt event.Event, reason string) {
	b.cfg.metrics.RecordEventDropped(context.Background(), reason)
	observability.LogEventDropped(b.cfg.logger, evt.Source, evt.Value, reason)
}

// Listen registers cb for events matching (id, value); zero is a wildcard
// in either position. Zero flags mean event.DefaultFlags.
//
// Registering an identical (id, value, cb) again does nothing, except that
// it revives an entry that was ignored but not yet swept.
func (b *MessageBus) Listen(id, value uint16, cb event.Callback, flags event.Flags) error {
	if !cb.Valid() {
		return &fberrors.ListenerError{ID: id, Value: value, Op: "listen", Err: fberrors.ErrInvalidParameter}
	}
	if flags == 0 {
		flags = event.DefaultFlags
	}

	if !b.add(id, value, cb, flags) {
		return nil
	}

	observability.LogListenerAdded(b.cfg.logger, id, value, uint16(flags))
	if b.cfg.announce {
		_ = b.Send(event.Event{Source: event.IDMessageBusListener, Value: id, Timestamp: event.Now()})
	}
	return nil
}

// add inserts a listener in (id, value) order. It reports false when an
// identical registration already exists.
func (b *MessageBus) add(id, value uint16, cb event.Callback, flags event.Flags) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners {
		if l.id == id && l.value == value && l.cb.Equal(cb) {
			l.deleting = false
			return false
		}
	}

	i := sort.Search(len(b.listeners), func(i int) bool {
		return !b.listeners[i].before(id, value)
	})
	b.listeners = slices.Insert(b.listeners, i, &listener{id: id, value: value, cb: cb, flags: flags})
	return true
}

// ListenFunc registers a plain function.
func (b *MessageBus) ListenFunc(id, value uint16, fn func(event.Event), flags event.Flags) error {
	return b.Listen(id, value, event.Func(fn), flags)
}

// ListenWithArg registers a function that receives arg on every call.
func (b *MessageBus) ListenWithArg(id, value uint16, fn func(event.Event, any), arg any, flags event.Flags) error {
	return b.Listen(id, value, event.FuncArg(fn, arg), flags)
}

// ListenMethod registers a method bound to recv:
//
//	bus.ListenMethod(b, IDButtonA, 0, display, (*Display).onButton, event.DefaultFlags)
func ListenMethod[T comparable](b *MessageBus, id, value uint16, recv T, fn func(T, event.Event), flags event.Flags) error {
	return b.Listen(id, value, event.Method(recv, fn), flags)
}

// Ignore removes the registration of cb for (id, value). The entry stops
// receiving events at once and is dropped from the chain by a later
// IdleTick, once it is no longer running.
func (b *MessageBus) Ignore(id, value uint16, cb event.Callback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners {
		if !l.deleting && l.id == id && l.value == value && l.cb.Equal(cb) {
			l.deleting = true
			return nil
		}
	}
	return &fberrors.ListenerError{ID: id, Value: value, Op: "ignore", Err: fberrors.ErrInvalidParameter}
}

// IgnoreFunc removes a registration made with ListenFunc.
func (b *MessageBus) IgnoreFunc(id, value uint16, fn func(event.Event)) error {
	return b.Ignore(id, value, event.Func(fn))
}

// sweep drops ignored listeners that are not running.
func (b *MessageBus) sweep() {
	b.mu.Lock()
	var removed []ListenerInfo
	b.listeners = slices.DeleteFunc(b.listeners, func(l *listener) bool {
		if l.deleting && !l.busy() {
			removed = append(removed, l.info())
			return true
		}
		return false
	})
	b.mu.Unlock()

	for _, r := range removed {
		observability.LogListenerRemoved(b.cfg.logger, r.ID, r.Value)
	}
}

// ElementAt returns the filter of the n'th active listener in chain order.
func (b *MessageBus) ElementAt(n int) (id, value uint16, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 {
		return 0, 0, false
	}
	for _, l := range b.listeners {
		if l.deleting {
			continue
		}
		if n == 0 {
			return l.id, l.value, true
		}
		n--
	}
	return 0, 0, false
}

// Listeners returns the active listeners in chain order.
func (b *MessageBus) Listeners() []ListenerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ListenerInfo, 0, len(b.listeners))
	for _, l := range b.listeners {
		if !l.deleting {
			out = append(out, l.info())
		}
	}
	return out
}

// QueueLength returns the number of events waiting for delivery.
func (b *MessageBus) QueueLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Length()
}
