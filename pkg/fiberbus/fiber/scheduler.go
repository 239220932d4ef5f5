// Package fiber implements a cooperative, non-preemptive fiber scheduler.
//
// A fiber is a resumable execution context. Only one fiber runs at a time:
// it keeps running until it calls Schedule, Sleep, WaitForEvent, Lock.Wait
// or returns from its entry function. Every fiber is bound to a goroutine,
// and switching hands a baton from one goroutine to the next, so exactly one
// of them is ever executing scheduler-managed code.
//
// Fibers live in an arena and are addressed by generation-checked FiberID
// handles. Runnable, sleeping and waiting fibers sit on index-linked queues.
// Finished fibers go to a small pool and are reissued by later CreateFiber
// calls.
//
// Invoke runs a handler inline on behalf of the current fiber and only
// creates a fiber for it if the handler blocks (fork-on-block).
//
// Tick and Event are the only entry points meant for interrupt-like callers
// such as a timer goroutine. Every other method must be called from the
// running fiber.
package fiber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/heap"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// Clock returns the current time in milliseconds.
type Clock func() uint64

// IdleComponent is serviced by the idle task whenever no fiber is runnable.
type IdleComponent interface {
	IdleTick()
}

// Scheduler owns all fibers and decides which one runs.
type Scheduler struct {
	cfg   schedulerConfig
	alloc heap.Allocator

	// mu stands in for interrupt masking around queue mutation.
	mu sync.Mutex

	running bool
	model   event.EventModel
	clock   Clock

	fibers    []fiber
	freeSlots []uint32

	current uint32
	idle    uint32
	forked  uint32

	run   fiberQueue
	sleep fiberQueue
	wait  fiberQueue
	pool  fiberQueue

	spare []*execContext

	dataReady bool
	interrupt chan struct{}

	components []IdleComponent

	wakeCallback event.Callback
}

// NewScheduler creates a scheduler. It does nothing until Init is called.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := defaultSchedulerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	alloc := cfg.allocator
	if alloc == nil {
		alloc = heap.Unlimited()
	}

	s := &Scheduler{
		cfg:        cfg,
		alloc:      alloc,
		current:    nilIdx,
		idle:       nilIdx,
		forked:     nilIdx,
		run:        newQueue(StateRunnable),
		sleep:      newQueue(StateSleeping),
		wait:       newQueue(StateWaiting),
		pool:       newQueue(StatePooled),
		interrupt:  make(chan struct{}, 1),
		components: make([]IdleComponent, cfg.idleComponents),
	}
	s.wakeCallback = event.Method(s, (*Scheduler).Event)
	return s
}

// Init starts the scheduler. The calling goroutine becomes the first fiber.
//
// model may be nil, in which case fibers cannot wait for events. clock
// supplies milliseconds for Sleep; nil uses event.Now.
//
// Init panics with ErrBootstrap if the heap cannot hold the first two fibers,
// since there is nothing to fall back on. Calling Init on a running scheduler
// does nothing.
func (s *Scheduler) Init(model event.EventModel, clock Clock) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if clock == nil {
		clock = event.Now
	}
	s.model = model
	s.clock = clock

	main, err := s.allocFiber()
	if err != nil {
		s.mu.Unlock()
		s.bootstrapFailed(err)
	}
	s.fibers[main].exec = newAdoptedContext()
	s.fibers[main].started = true
	s.enqueue(main, &s.run)
	s.current = main

	idle, err := s.allocFiber()
	if err != nil {
		s.mu.Unlock()
		s.bootstrapFailed(err)
	}
	s.fibers[idle].exec = newExecContext()
	s.fibers[idle].launch = s.idleTask
	s.idle = idle

	s.running = true
	s.mu.Unlock()

	if model != nil {
		_ = model.Listen(event.IDNotify, event.ValueAny, s.wakeCallback, event.Immediate)
		_ = model.Listen(event.IDNotifyOne, event.ValueAny, s.wakeCallback, event.Immediate)
	}

	observability.LogSchedulerStart(s.cfg.logger, s.cfg.poolSize, s.cfg.idleComponents)
}

func (s *Scheduler) bootstrapFailed(err error) {
	observability.LogBootstrapFailure(s.cfg.logger, err)
	panic(&fberrors.FiberError{Op: "init", Err: fberrors.ErrBootstrap})
}

// Running reports whether Init has been called.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Now returns the scheduler clock.
func (s *Scheduler) Now() uint64 {
	s.mu.Lock()
	clock := s.clock
	s.mu.Unlock()
	if clock == nil {
		return event.Now()
	}
	return clock()
}

// allocFiber takes a fiber from the pool, or charges a new one to the heap.
// The fiber is on no queue and has no context. Callers hold s.mu.
func (s *Scheduler) allocFiber() (uint32, error) {
	if idx := s.pool.head; idx != nilIdx {
		s.dequeue(idx)
		f := &s.fibers[idx]
		f.flags = 0
		f.context = 0
		s.cfg.metrics.RecordFiberCreated(context.Background(), true)
		observability.LogFiberCreated(s.cfg.logger, s.id(idx).String(), true)
		return idx, nil
	}

	block, err := s.alloc.Alloc(s.cfg.fiberBlockSize)
	if err != nil {
		return nilIdx, err
	}
	idx := s.slot()
	f := &s.fibers[idx]
	if f.gen == 0 {
		f.gen = 1
	}
	f.live = true
	f.block = block
	f.next, f.prev = nilIdx, nilIdx
	s.cfg.metrics.RecordFiberCreated(context.Background(), false)
	observability.LogFiberCreated(s.cfg.logger, s.id(idx).String(), false)
	return idx, nil
}

// CreateFiber starts entry in a new fiber, then completion (which may be nil)
// once entry returns. The fiber is queued as runnable; it first runs when the
// caller next yields.
func (s *Scheduler) CreateFiber(entry, completion func()) (FiberID, error) {
	if entry == nil {
		return FiberID{}, fberrors.ErrInvalidParameter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return FiberID{}, fberrors.ErrNotSupported
	}

	idx, err := s.allocFiber()
	if err != nil {
		return FiberID{}, &fberrors.FiberError{Op: "create", Err: err}
	}

	f := &s.fibers[idx]
	f.exec = s.takeContext()
	f.started = false
	f.launch = func() {
		entry()
		if completion != nil {
			completion()
		}
		s.mu.Lock()
		s.release()
	}
	s.enqueue(idx, &s.run)
	return s.id(idx), nil
}

// release recycles the running fiber and switches to the next one without
// parking, so the calling goroutine returns to its context loop.
// Callers hold s.mu; it is released.
func (s *Scheduler) release() {
	idx := s.current
	f := &s.fibers[idx]
	id := s.id(idx)

	s.dequeue(idx)
	exec := f.exec
	f.exec = nil
	f.started = false
	f.launch = nil
	f.fob = nil
	f.flags = 0
	// A recycled fiber is a new fiber as far as handles are concerned.
	f.gen++
	s.enqueue(idx, &s.pool)

	pooled := true
	for s.pool.length > s.cfg.poolSize {
		victim := s.pool.head
		if victim == idx {
			pooled = false
		}
		s.dequeue(victim)
		s.freeSlot(victim)
	}
	s.putContext(exec)

	s.cfg.metrics.RecordFiberRecycled(context.Background(), pooled)
	observability.LogFiberReleased(s.cfg.logger, id.String(), pooled)

	next := s.pick(nilIdx)
	s.current = next
	task := s.startTask(next)
	nextExec := s.fibers[next].exec
	s.mu.Unlock()

	s.cfg.metrics.RecordContextSwitch(context.Background())
	nextExec.wake(task)
}

// pick chooses the fiber to run after old. Callers hold s.mu.
func (s *Scheduler) pick(old uint32) uint32 {
	if s.run.length == 0 || s.dataReady {
		return s.idle
	}
	if old != nilIdx && s.fibers[old].queue == &s.run {
		if next := s.fibers[old].next; next != nilIdx {
			return next
		}
	}
	return s.run.head
}

// startTask returns the launch function for a fiber that has never run,
// or nil for one that is parked. Callers hold s.mu.
func (s *Scheduler) startTask(idx uint32) func() {
	f := &s.fibers[idx]
	if f.started {
		return nil
	}
	f.started = true
	return f.launch
}

// Schedule yields to the next runnable fiber, round robin. It returns when
// the calling fiber is chosen again.
//
// Called from a handler running inline under Invoke, the handler is moved
// into a fiber of its own and Invoke returns to its caller.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	cur := s.current
	if s.fibers[cur].flags&FlagFOB != 0 && s.forked == nilIdx {
		if child := s.handleFOB(); child != cur {
			s.enqueue(child, &s.run)
		}
	}
	s.schedule()
}

// schedule switches away from the running fiber and parks the calling
// goroutine until it is resumed. Callers hold s.mu; it is released.
func (s *Scheduler) schedule() {
	old := s.current
	if s.fibers[old].flags&FlagFOB != 0 && s.forked != nilIdx {
		s.fork()
		return
	}

	next := s.pick(old)

	if next == s.idle && old != s.idle && s.fibers[old].flags&FlagDoNotPage != 0 {
		// Run the idle task right here until something becomes runnable.
		for {
			s.mu.Unlock()
			s.idleWork()
			s.mu.Lock()
			if s.run.length > 0 {
				break
			}
		}
		next = s.run.head
	}

	if next == old {
		s.mu.Unlock()
		return
	}

	if old != s.idle {
		s.verifyStack(old)
	}

	s.current = next
	task := s.startTask(next)
	nextExec := s.fibers[next].exec
	oldExec := s.fibers[old].exec
	s.mu.Unlock()

	s.cfg.metrics.RecordContextSwitch(context.Background())
	nextExec.wake(task)
	oldExec.park()
}

// Sleep suspends the running fiber for at least ms milliseconds. If the
// scheduler is not running the calling goroutine simply sleeps.
func (s *Scheduler) Sleep(ms uint64) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return
	}

	f := s.handleFOB()
	s.fibers[f].context = s.clock() + ms
	s.move(f, &s.sleep)
	s.schedule()
}

// WaitForEvent suspends the running fiber until an event matching
// (id, value) is delivered. Zero is a wildcard in either position.
func (s *Scheduler) WaitForEvent(id, value uint16) error {
	if err := s.WakeOnEvent(id, value); err != nil {
		return err
	}
	s.Schedule()
	return nil
}

// WakeOnEvent registers the running fiber to be woken by an event matching
// (id, value) without yielding. The caller must call Schedule next; the two
// together behave like WaitForEvent, with nothing able to run in between.
func (s *Scheduler) WakeOnEvent(id, value uint16) error {
	s.mu.Lock()
	if !s.running || s.model == nil {
		s.mu.Unlock()
		return fberrors.ErrNotSupported
	}

	f := s.handleFOB()
	s.fibers[f].context = uint64(value)<<16 | uint64(id)
	s.move(f, &s.wait)
	model := s.model
	s.mu.Unlock()

	if !reserved(id) {
		_ = model.Listen(id, value, s.wakeCallback, event.Immediate)
	}
	return nil
}

// reserved reports whether id is one of the permanently registered notify channels.
func reserved(id uint16) bool {
	return id == event.IDNotify || id == event.IDNotifyOne
}

// Tick wakes sleeping fibers whose time has come. The system timer calls it
// periodically; it never blocks.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	now := s.clock()
	for idx := s.sleep.head; idx != nilIdx; {
		next := s.fibers[idx].next
		if now >= s.fibers[idx].context {
			s.move(idx, &s.run)
		}
		idx = next
	}
	s.mu.Unlock()

	s.signal()
}

// Event wakes fibers waiting on a matching filter. The message bus calls it
// for each processed event through an immediate listener.
//
// An event on IDNotifyOne wakes at most one fiber waiting on IDNotify.
// Once a transient filter has no waiters left its listener is removed.
func (s *Scheduler) Event(evt event.Event) {
	s.mu.Lock()
	if !s.running || s.model == nil {
		s.mu.Unlock()
		return
	}

	type filter struct{ id, value uint16 }
	var woken []filter
	notifyOneDone := false

	for idx := s.wait.head; idx != nilIdx; {
		f := &s.fibers[idx]
		next := f.next
		id := uint16(f.context & 0xFFFF)
		value := uint16(f.context >> 16)

		if evt.Source == event.IDNotifyOne && id == event.IDNotify && (value == event.ValueAny || value == evt.Value) {
			if !notifyOneDone {
				s.move(idx, &s.run)
				notifyOneDone = true
			}
		} else if evt.Matches(id, value) {
			s.move(idx, &s.run)
			if !reserved(id) {
				woken = append(woken, filter{id, value})
			}
		}
		idx = next
	}

	// Keep listeners for filters that other fibers still wait on.
	stale := woken[:0]
	for _, w := range woken {
		if !s.waitingOn(w.id, w.value) && !containsFilter(stale, w) {
			stale = append(stale, w)
		}
	}
	model := s.model
	woke := notifyOneDone || len(woken) > 0
	s.mu.Unlock()

	if woke {
		s.signal()
	}
	if len(stale) == 0 {
		return
	}
	for _, w := range stale {
		_ = model.Ignore(w.id, w.value, s.wakeCallback)
	}

	// A fiber may have started waiting on one of these filters while the
	// lock was released. Its own Listen can land before the Ignore above,
	// so restore the listener for any filter that has a waiter again.
	s.mu.Lock()
	revive := stale[:0]
	for _, w := range stale {
		if s.waitingOn(w.id, w.value) {
			revive = append(revive, w)
		}
	}
	s.mu.Unlock()
	for _, w := range revive {
		_ = model.Listen(w.id, w.value, s.wakeCallback, event.Immediate)
	}
}

func containsFilter[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// waitingOn reports whether any fiber still waits with filter (id, value).
// Callers hold s.mu.
func (s *Scheduler) waitingOn(id, value uint16) bool {
	want := uint64(value)<<16 | uint64(id)
	for idx := s.wait.head; idx != nilIdx; idx = s.fibers[idx].next {
		if s.fibers[idx].context == want {
			return true
		}
	}
	return false
}

// signal ends a pending idle wait.
func (s *Scheduler) signal() {
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
}

// SignalDataReady asks for the idle task to run at the next Schedule even if
// other fibers are runnable. The message bus raises it when it queues work.
func (s *Scheduler) SignalDataReady() {
	s.mu.Lock()
	s.dataReady = true
	s.mu.Unlock()
	s.signal()
}

// RunQueueEmpty reports whether no fiber is runnable.
func (s *Scheduler) RunQueueEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.length == 0
}

// Current returns the running fiber, or the zero FiberID before Init.
func (s *Scheduler) Current() FiberID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nilIdx {
		return FiberID{}
	}
	return s.id(s.current)
}

// Idle returns the idle fiber.
func (s *Scheduler) Idle() FiberID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle == nilIdx {
		return FiberID{}
	}
	return s.id(s.idle)
}

// Fibers returns every live fiber that is not pooled, including the idle fiber.
func (s *Scheduler) Fibers() []FiberID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []FiberID
	for i := range s.fibers {
		f := &s.fibers[i]
		if f.live && f.queue != &s.pool {
			ids = append(ids, s.id(uint32(i)))
		}
	}
	return ids
}

// PoolSize returns the number of finished fibers waiting for reuse.
func (s *Scheduler) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.length
}

// State reports where the fiber id currently sits.
func (s *Scheduler) State(id FiberID) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.lookup(id)
	switch {
	case f == nil:
		return StateInvalid
	case id.index == s.current:
		return StateRunning
	case id.index == s.idle:
		return StateIdle
	case f.queue == nil:
		// Mid-transition: a fork that has not been scheduled yet.
		return StateRunnable
	}
	return f.queue.state
}

// Flags returns the fork-on-block flags of a fiber.
func (s *Scheduler) Flags(id FiberID) Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := s.lookup(id); f != nil {
		return f.flags
	}
	return 0
}

// SetDoNotPage sets or clears FlagDoNotPage on a fiber.
func (s *Scheduler) SetDoNotPage(id FiberID, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.lookup(id)
	if f == nil {
		return &fberrors.FiberError{Fiber: id.String(), Op: "set do-not-page", Err: fberrors.ErrInvalidParameter}
	}
	if on {
		f.flags |= FlagDoNotPage
	} else {
		f.flags &^= FlagDoNotPage
	}
	return nil
}

// AddIdleComponent registers c to be serviced by the idle task.
// It returns ErrNoResources when every slot is taken.
func (s *Scheduler) AddIdleComponent(c IdleComponent) error {
	if c == nil {
		return fberrors.ErrInvalidParameter
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.components {
		if s.components[i] == nil {
			s.components[i] = c
			return nil
		}
	}
	return fberrors.ErrNoResources
}

// RemoveIdleComponent unregisters c.
// It returns ErrInvalidParameter if c was not registered.
func (s *Scheduler) RemoveIdleComponent(c IdleComponent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.components {
		if s.components[i] == c {
			s.components[i] = nil
			return nil
		}
	}
	return fberrors.ErrInvalidParameter
}

// idleTask is the body of the idle fiber.
func (s *Scheduler) idleTask() {
	for {
		s.idleWork()
		s.Schedule()
	}
}

// idleWork services idle components, then waits for an interrupt if that
// produced nothing to run.
func (s *Scheduler) idleWork() {
	s.mu.Lock()
	s.dataReady = false
	components := make([]IdleComponent, 0, len(s.components))
	for _, c := range s.components {
		if c != nil {
			components = append(components, c)
		}
	}
	s.mu.Unlock()

	for _, c := range components {
		c.IdleTick()
	}

	s.mu.Lock()
	quiet := s.run.length == 0 && !s.dataReady
	s.mu.Unlock()
	if quiet {
		<-s.interrupt
	}
}

func logStackGrowth(s *Scheduler, idx uint32, from, to int) {
	s.cfg.metrics.RecordStackGrowth(context.Background(), int64(to))
	observability.LogStackGrowth(s.cfg.logger, s.id(idx).String(), from, to)
}

func logStackGrowthError(s *Scheduler, idx uint32, size int, err error) {
	observability.LogStackGrowthError(s.cfg.logger, s.id(idx).String(), size, err)
}

// Logger returns the scheduler's logger, which may be nil.
func (s *Scheduler) Logger() *slog.Logger {
	return s.cfg.logger
}
