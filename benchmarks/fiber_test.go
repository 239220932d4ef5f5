package benchmarks

import (
	"testing"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/config"
)

// BenchmarkInvoke_NonBlocking runs a handler that returns without
// blocking, so no fiber is forked.
func BenchmarkInvoke_NonBlocking(b *testing.B) {
	sched := newRuntime(b, config.DefaultSettings()).Scheduler()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sched.Invoke(noop)
	}
}

// BenchmarkInvoke_Blocking runs a handler that yields, forking the caller
// onto a pooled fiber every time.
func BenchmarkInvoke_Blocking(b *testing.B) {
	sched := newRuntime(b, config.DefaultSettings()).Scheduler()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sched.Invoke(sched.Schedule)
		sched.Schedule()
	}
}

// BenchmarkCreateFiber creates a fiber and lets it run to completion.
func BenchmarkCreateFiber(b *testing.B) {
	sched := newRuntime(b, config.DefaultSettings()).Scheduler()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = sched.CreateFiber(noop, nil)
		sched.Schedule()
	}
}

// BenchmarkContextSwitch measures a round trip between two fibers.
func BenchmarkContextSwitch(b *testing.B) {
	sched := newRuntime(b, config.DefaultSettings()).Scheduler()
	stop := false
	_, _ = sched.CreateFiber(func() {
		for !stop {
			sched.Schedule()
		}
	}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sched.Schedule()
	}
	b.StopTimer()
	stop = true
	sched.Schedule()
}
