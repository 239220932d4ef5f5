package bus

import (
	"github.com/eapache/queue"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
)

// listener is one registration in the chain.
type listener struct {
	id    uint16
	value uint16
	cb    event.Callback
	flags event.Flags

	// deleting marks an ignored entry awaiting the next sweep.
	deleting bool
	// active counts invocations that have not returned yet. A handler
	// parked in a forked fiber still counts.
	active int
	// pending buffers events for a busy QueueIfBusy listener.
	pending *queue.Queue
}

// ListenerInfo describes a registered listener.
type ListenerInfo struct {
	ID    uint16
	Value uint16
	Flags event.Flags
}

func (l *listener) info() ListenerInfo {
	return ListenerInfo{ID: l.id, Value: l.value, Flags: l.flags}
}

// before reports whether l sorts ahead of (id, value).
func (l *listener) before(id, value uint16) bool {
	return l.id < id || (l.id == id && l.value <= value)
}

// busy reports whether an earlier invocation is still running.
func (l *listener) busy() bool {
	return l.active > 0
}

// enqueue buffers evt, reporting false if depth events are already waiting.
func (l *listener) enqueue(evt event.Event, depth int) bool {
	if l.pending == nil {
		l.pending = queue.New()
	}
	if l.pending.Length() >= depth {
		return false
	}
	l.pending.Add(evt)
	return true
}

// next pops the oldest buffered event.
func (l *listener) next() (event.Event, bool) {
	if l.pending == nil || l.pending.Length() == 0 {
		return event.Event{}, false
	}
	return l.pending.Remove().(event.Event), true
}
