package fiber

import (
	"fmt"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/heap"
)

// nilIdx marks the end of a queue.
const nilIdx = ^uint32(0)

// FiberID is a handle to a fiber. Handles carry a generation, so a handle to
// a fiber that has since been freed and its slot reused is detected as stale.
// The zero FiberID refers to no fiber.
type FiberID struct {
	index uint32
	gen   uint32
}

// IsZero reports whether id refers to no fiber.
func (id FiberID) IsZero() bool {
	return id.gen == 0
}

// String implements fmt.Stringer.
func (id FiberID) String() string {
	if id.IsZero() {
		return "fiber(none)"
	}
	return fmt.Sprintf("fiber(%d:%d)", id.index, id.gen)
}

// Flags describe a fiber's fork-on-block relationships.
type Flags uint8

const (
	// FlagFOB is set while a handler runs inline under Invoke.
	FlagFOB Flags = 0x01
	// FlagParent marks the fiber whose inline handler was just forked.
	FlagParent Flags = 0x02
	// FlagChild marks a fiber created to finish a blocked inline handler.
	FlagChild Flags = 0x04
	// FlagDoNotPage runs the idle task on this fiber's own context instead
	// of switching to the idle fiber.
	FlagDoNotPage Flags = 0x08
)

// State is where a fiber currently sits.
type State int

const (
	StateInvalid State = iota
	StateRunning
	StateRunnable
	StateSleeping
	StateWaiting
	StateLocked
	StatePooled
	StateIdle
)

var stateNames = [...]string{
	StateInvalid:  "invalid",
	StateRunning:  "running",
	StateRunnable: "runnable",
	StateSleeping: "sleeping",
	StateWaiting:  "waiting",
	StateLocked:   "locked",
	StatePooled:   "pooled",
	StateIdle:     "idle",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// fiber is one arena slot.
type fiber struct {
	gen  uint32
	live bool

	flags Flags

	// context holds the wake tick while sleeping, or value<<16|id while
	// waiting for an event.
	context uint64

	queue      *fiberQueue
	next, prev uint32

	exec    *execContext
	started bool
	launch  func()

	block heap.Block
	stack stackBuffer

	// fob is set on a fiber running a handler inline under Invoke.
	fob *fobFrame
}

// fiberQueue is an index-linked list of arena slots.
type fiberQueue struct {
	state  State
	head   uint32
	tail   uint32
	length int
}

func newQueue(state State) fiberQueue {
	return fiberQueue{state: state, head: nilIdx, tail: nilIdx}
}

func (s *Scheduler) id(idx uint32) FiberID {
	return FiberID{index: idx, gen: s.fibers[idx].gen}
}

// lookup resolves a handle, returning nil for stale or unknown handles.
func (s *Scheduler) lookup(id FiberID) *fiber {
	if id.IsZero() || int(id.index) >= len(s.fibers) {
		return nil
	}
	f := &s.fibers[id.index]
	if !f.live || f.gen != id.gen {
		return nil
	}
	return f
}

// enqueue appends the fiber at idx to the tail of q.
// Callers hold s.mu.
func (s *Scheduler) enqueue(idx uint32, q *fiberQueue) {
	f := &s.fibers[idx]
	f.queue = q
	f.next = nilIdx
	f.prev = q.tail
	if q.tail == nilIdx {
		q.head = idx
	} else {
		s.fibers[q.tail].next = idx
	}
	q.tail = idx
	q.length++
}

// dequeue unlinks the fiber at idx from whichever queue holds it.
// It is a no-op for a fiber on no queue. Callers hold s.mu.
func (s *Scheduler) dequeue(idx uint32) {
	f := &s.fibers[idx]
	q := f.queue
	if q == nil {
		return
	}
	if f.prev == nilIdx {
		q.head = f.next
	} else {
		s.fibers[f.prev].next = f.next
	}
	if f.next == nilIdx {
		q.tail = f.prev
	} else {
		s.fibers[f.next].prev = f.prev
	}
	q.length--
	f.next, f.prev = nilIdx, nilIdx
	f.queue = nil
}

// move dequeues idx and appends it to q.
func (s *Scheduler) move(idx uint32, q *fiberQueue) {
	s.dequeue(idx)
	s.enqueue(idx, q)
}

// slot returns a free arena index, growing the arena when none is free.
func (s *Scheduler) slot() uint32 {
	if n := len(s.freeSlots); n > 0 {
		idx := s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
		return idx
	}
	s.fibers = append(s.fibers, fiber{next: nilIdx, prev: nilIdx})
	return uint32(len(s.fibers) - 1)
}

// freeSlot returns idx to the arena. Outstanding handles become stale.
func (s *Scheduler) freeSlot(idx uint32) {
	f := &s.fibers[idx]
	s.alloc.Free(f.block)
	f.stack.free(s.alloc)
	gen := f.gen
	*f = fiber{gen: gen + 1, next: nilIdx, prev: nilIdx}
	s.freeSlots = append(s.freeSlots, idx)
}
