package fiber

import (
	"context"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// fobFrame tracks one inline handler started by Invoke.
type fobFrame struct {
	// parentExec is the context the invoking fiber is parked on.
	parentExec *execContext
	// handlerExec runs the handler.
	handlerExec *execContext
	// forked is set once the handler blocked and moved into a child fiber.
	forked bool
	// borrowed is set when forking failed and the handler blocked as the
	// invoking fiber itself.
	borrowed bool
}

// Invoke runs fn on behalf of the running fiber.
//
// fn is called inline. If it returns without blocking, no fiber is created.
// If it blocks, it is moved into a fiber of its own at that point and Invoke
// returns; the new fiber is recycled when fn finishes. If no fiber can be
// allocated, fn keeps running as the calling fiber and Invoke returns only
// once it completes.
//
// Invoke from inside an inline handler, or from a fiber already involved in a
// fork, simply starts fn in a new fiber.
func (s *Scheduler) Invoke(fn func()) error {
	if fn == nil {
		return fberrors.ErrInvalidParameter
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fberrors.ErrNotSupported
	}

	parent := s.current
	p := &s.fibers[parent]
	if p.flags&(FlagFOB|FlagParent|FlagChild) != 0 {
		s.mu.Unlock()
		_, err := s.CreateFiber(fn, nil)
		return err
	}

	frame := &fobFrame{
		parentExec:  p.exec,
		handlerExec: s.takeContext(),
	}
	p.exec = frame.handlerExec
	p.fob = frame
	p.flags |= FlagFOB
	s.mu.Unlock()

	frame.handlerExec.wake(func() { s.runInline(fn, frame) })
	frame.parentExec.park()

	s.mu.Lock()
	s.fibers[parent].flags &^= FlagFOB | FlagParent
	s.mu.Unlock()
	return nil
}

// runInline executes an invoked handler on its own context.
func (s *Scheduler) runInline(fn func(), frame *fobFrame) {
	fn()

	s.mu.Lock()
	if frame.forked {
		// Running as the child fiber.
		s.release()
		return
	}

	// Still the invoking fiber: hand its own context back.
	f := &s.fibers[s.current]
	f.flags &^= FlagFOB
	f.exec = frame.parentExec
	f.fob = nil
	s.putContext(frame.handlerExec)
	s.mu.Unlock()

	frame.parentExec.wake(nil)
}

// handleFOB returns the fiber that should block. Outside fork-on-block that
// is the running fiber. Inside it, a child fiber is allocated to take over
// the handler; if that fails the running fiber blocks itself.
// Callers hold s.mu.
func (s *Scheduler) handleFOB() uint32 {
	cur := s.current
	if s.fibers[cur].flags&FlagFOB == 0 {
		return cur
	}

	child, err := s.allocFiber()
	if err != nil {
		f := &s.fibers[cur]
		f.flags &^= FlagFOB
		f.fob.borrowed = true
		observability.LogForkFallback(s.cfg.logger, s.id(cur).String(), err)
		return cur
	}
	s.forked = child
	return child
}

// fork completes a fork-on-block: the child adopts the blocked handler's
// context and the parent resumes from Invoke. The calling goroutine parks
// as the child. Callers hold s.mu; it is released.
func (s *Scheduler) fork() {
	parent := s.current
	child := s.forked
	s.forked = nilIdx

	p := &s.fibers[parent]
	c := &s.fibers[child]
	frame := p.fob

	p.flags = p.flags&^FlagFOB | FlagParent
	p.exec = frame.parentExec
	p.fob = nil

	c.flags |= FlagChild
	c.exec = frame.handlerExec
	c.started = true
	frame.forked = true

	// The child's stack is the handler's frames above the Invoke call.
	s.verifyStack(child)

	s.cfg.metrics.RecordFiberForked(context.Background())
	observability.LogFiberForked(s.cfg.logger, s.id(parent).String(), s.id(child).String())

	s.mu.Unlock()

	frame.parentExec.wake(nil)
	frame.handlerExec.park()
}
