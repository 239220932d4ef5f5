// Package timer provides the system timer: a monotonic millisecond clock
// plus a list of callbacks run on every tick.
//
// On hardware the tick is an interrupt. Here Run drives ticks from a
// dedicated goroutine, which plays the part of the interrupt context:
// callbacks must only touch state guarded for concurrent access and must
// never block. Tests use Advance instead and stay fully deterministic.
package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPeriod is the tick period used when none is given.
const DefaultPeriod = 6 * time.Millisecond

// Callback runs once per tick.
type Callback func()

// Timer is a tick source and millisecond clock.
type Timer struct {
	period time.Duration
	now    atomic.Uint64

	mu        sync.Mutex
	callbacks []Callback
	running   atomic.Bool
}

// New creates a timer that ticks every period once Run is called.
// A non-positive period falls back to DefaultPeriod.
func New(period time.Duration) *Timer {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Timer{period: period}
}

// NewManual creates a timer advanced only through Advance.
// It reports a 1ms period so each Advance step is one tick.
func NewManual() *Timer {
	return &Timer{period: time.Millisecond}
}

// Period returns the tick period.
func (t *Timer) Period() time.Duration {
	return t.period
}

// Now returns milliseconds elapsed on this timer.
func (t *Timer) Now() uint64 {
	return t.now.Load()
}

// AddCallback registers fn to run on every tick.
func (t *Timer) AddCallback(fn Callback) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

// Advance moves the clock forward by ms milliseconds, one period at a time,
// running the callbacks after each step. It runs on the caller's goroutine.
func (t *Timer) Advance(ms uint64) {
	step := uint64(t.period.Milliseconds())
	if step == 0 {
		step = 1
	}
	for ms > 0 {
		d := step
		if ms < d {
			d = ms
		}
		ms -= d
		t.tick(d)
	}
}

// Run drives ticks from a ticker until ctx is cancelled.
// It returns immediately if the timer is already running.
func (t *Timer) Run(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	defer t.running.Store(false)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			elapsed := uint64(now.Sub(last).Milliseconds())
			if elapsed == 0 {
				continue
			}
			last = last.Add(time.Duration(elapsed) * time.Millisecond)
			t.tick(elapsed)
		case <-ctx.Done():
			return
		}
	}
}

// Running reports whether Run is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

func (t *Timer) tick(ms uint64) {
	t.now.Add(ms)

	t.mu.Lock()
	callbacks := make([]Callback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
