package benchmarks

import (
	"testing"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/config"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/timer"
)

// newRuntime builds a runtime on a manual timer with the calling goroutine
// as main fiber.
func newRuntime(b *testing.B, settings config.Settings) *fiberbus.Runtime {
	b.Helper()
	rt, err := fiberbus.New(settings,
		fiberbus.WithTimer(timer.NewManual()),
		fiberbus.WithDefaultModel(false),
	)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = rt.Close() })
	return rt
}

func noop() {}
