package fiber

// Lock is a fiber-aware lock. Wait blocks the running fiber while the lock is
// held; Notify releases it and wakes one waiter.
//
// With the scheduler stopped, Wait returns immediately since only one
// goroutine can be running scheduler code.
type Lock struct {
	s      *Scheduler
	queue  fiberQueue
	locked bool
}

// NewLock creates an unlocked Lock bound to s.
func (s *Scheduler) NewLock() *Lock {
	return &Lock{s: s, queue: newQueue(StateLocked)}
}

// Wait takes the lock, blocking until it is free.
// Called from an inline handler, blocking forks the handler like Sleep does.
func (l *Lock) Wait() {
	s := l.s
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	if l.locked {
		f := s.handleFOB()
		s.move(f, &l.queue)
		s.schedule()
		s.mu.Lock()
	}
	l.locked = true
	s.mu.Unlock()
}

// Notify releases the lock and wakes the longest waiting fiber, if any.
func (l *Lock) Notify() {
	s := l.s
	s.mu.Lock()
	woke := false
	if idx := l.queue.head; idx != nilIdx {
		s.move(idx, &s.run)
		woke = true
	}
	l.locked = false
	s.mu.Unlock()

	if woke {
		s.signal()
	}
}

// NotifyAll releases the lock and wakes every waiting fiber.
func (l *Lock) NotifyAll() {
	s := l.s
	s.mu.Lock()
	woke := l.queue.length > 0
	for idx := l.queue.head; idx != nilIdx; idx = l.queue.head {
		s.move(idx, &s.run)
	}
	l.locked = false
	s.mu.Unlock()

	if woke {
		s.signal()
	}
}

// Locked reports whether the lock is held.
func (l *Lock) Locked() bool {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.locked
}

// Waiting returns the number of fibers blocked in Wait.
func (l *Lock) Waiting() int {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.queue.length
}
