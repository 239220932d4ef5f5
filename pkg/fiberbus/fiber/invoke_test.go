package fiber_test

import (
	"bytes"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/fiber"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/heap"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childOf(s *fiber.Scheduler) fiber.FiberID {
	for _, id := range s.Fibers() {
		if s.Flags(id)&fiber.FlagChild != 0 {
			return id
		}
	}
	return fiber.FiberID{}
}

func TestInvoke_NonBlockingCreatesNoFiber(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	main := s.Current()
	before := len(s.Fibers())

	called := false
	require.NoError(t, s.Invoke(func() { called = true }))

	assert.True(t, called, "handler completes before Invoke returns")
	assert.Len(t, s.Fibers(), before)
	assert.Equal(t, 0, s.PoolSize())
	assert.Equal(t, main, s.Current())
	assert.Zero(t, s.Flags(main)&(fiber.FlagFOB|fiber.FlagParent))

	assert.ErrorIs(t, s.Invoke(nil), fberrors.ErrInvalidParameter)
}

func TestInvoke_BlockingForksOneFiber(t *testing.T) {
	s, tm, _ := newTestScheduler(t)
	main := s.Current()
	before := len(s.Fibers())

	var stages []string
	require.NoError(t, s.Invoke(func() {
		stages = append(stages, "start")
		s.Sleep(10)
		stages = append(stages, "end")
	}))
	stages = append(stages, "returned")

	assert.Equal(t, []string{"start", "returned"}, stages)
	assert.Len(t, s.Fibers(), before+1)
	assert.Equal(t, main, s.Current())
	assert.Zero(t, s.Flags(main)&(fiber.FlagFOB|fiber.FlagParent))

	child := childOf(s)
	require.False(t, child.IsZero())
	assert.Equal(t, fiber.StateSleeping, s.State(child))

	tm.Advance(10)
	runUntil(t, s, func() bool { return len(stages) == 3 })

	assert.Equal(t, []string{"start", "returned", "end"}, stages)
	assert.Len(t, s.Fibers(), before)
	assert.Equal(t, 1, s.PoolSize(), "the forked fiber returns to the pool")
}

func TestInvoke_ForkChargesStack(t *testing.T) {
	budget := heap.Unlimited()
	s, tm, _ := newTestScheduler(t, fiber.WithAllocator(budget))
	before := budget.InUse()

	done := false
	require.NoError(t, s.Invoke(func() {
		s.Sleep(5)
		done = true
	}))

	// A control block plus a stack buffer for the handler's frames.
	assert.Greater(t, budget.InUse(), before+fiber.DefaultFiberBlockSize)
	assert.Zero(t, (budget.InUse()-before-fiber.DefaultFiberBlockSize)%32, "stacks grow in 32 byte steps")

	tm.Advance(5)
	runUntil(t, s, func() bool { return done })
}

func TestInvoke_YieldForks(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	var stages []string
	require.NoError(t, s.Invoke(func() {
		stages = append(stages, "a")
		s.Schedule()
		stages = append(stages, "b")
	}))
	stages = append(stages, "returned")

	child := childOf(s)
	require.False(t, child.IsZero())
	assert.Equal(t, fiber.StateRunnable, s.State(child))

	runUntil(t, s, func() bool { return len(stages) == 3 })
	assert.Equal(t, []string{"a", "returned", "b"}, stages)
}

func TestInvoke_WaitForEventForks(t *testing.T) {
	s, _, m := newTestScheduler(t)

	got := false
	require.NoError(t, s.Invoke(func() {
		require.NoError(t, s.WaitForEvent(9, 3))
		got = true
	}))

	child := childOf(s)
	require.False(t, child.IsZero())
	assert.Equal(t, fiber.StateWaiting, s.State(child))
	assert.Contains(t, m.listens, registration{9, 3, event.Immediate})

	s.Event(eventOf(9, 3))
	runUntil(t, s, func() bool { return got })
}

func TestInvoke_NestedStartsFiber(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	var order []string
	require.NoError(t, s.Invoke(func() {
		order = append(order, "outer")
		require.NoError(t, s.Invoke(func() { order = append(order, "inner") }))
		order = append(order, "outer-done")
	}))

	assert.Equal(t, []string{"outer", "outer-done"}, order)
	assert.Len(t, s.Fibers(), 3, "nested handler waits in a fiber")

	runUntil(t, s, func() bool { return len(order) == 3 })
	assert.Equal(t, "inner", order[2])
}

func TestInvoke_AllocationFailureRunsOnCaller(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Room for exactly the first two fibers.
	s := fiber.NewScheduler(
		fiber.WithAllocator(heap.NewBudget(2*fiber.DefaultFiberBlockSize)),
		fiber.WithLogger(logger),
	)
	tm := timer.NewManual()
	s.Init(&fakeModel{}, tm.Now)
	tm.AddCallback(s.Tick)

	// Nothing else is runnable while the handler sleeps, so drive the
	// timer from outside like the hardware tick would.
	var stop atomic.Bool
	go func() {
		for !stop.Load() {
			tm.Advance(1)
			time.Sleep(time.Millisecond)
		}
	}()
	defer stop.Store(true)

	before := len(s.Fibers())
	var stages []string
	require.NoError(t, s.Invoke(func() {
		stages = append(stages, "start")
		s.Sleep(5)
		stages = append(stages, "end")
	}))
	stages = append(stages, "returned")

	assert.Equal(t, []string{"start", "end", "returned"}, stages)
	assert.Len(t, s.Fibers(), before)
	assert.Zero(t, s.Flags(s.Current())&fiber.FlagFOB)
	assert.Contains(t, logs.String(), "fork-on-block allocation failed")
}
