package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/bus"
	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

func TestBusyPolicies(t *testing.T) {
	tests := []struct {
		name      string
		flags     event.Flags
		extra     int
		want      []uint16
		dropped   int
		dropCause string
	}{
		{
			name:      "drop if busy discards",
			flags:     event.DropIfBusy,
			extra:     1,
			want:      []uint16{0},
			dropped:   1,
			dropCause: observability.DropListenerBusy,
		},
		{
			name:      "queue if busy keeps up to the depth",
			flags:     event.QueueIfBusy,
			extra:     12,
			want:      []uint16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			dropped:   2,
			dropCause: observability.DropListenerQueueFull,
		},
		{
			name:  "reentrant runs again",
			flags: event.Reentrant,
			extra: 2,
			// The later handlers block on the same lock behind the first.
			want: []uint16{0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drops := &dropCounter{}
			s, b := newRunning(t,
				bus.WithMetrics(drops),
				bus.WithQueueDepth(32),
				bus.WithListenerQueueDepth(10),
			)

			// Holding the lock keeps the handler blocked, and so busy.
			gate := s.NewLock()
			gate.Wait()

			var got []uint16
			require.NoError(t, b.ListenFunc(6, event.ValueAny, func(e event.Event) {
				gate.Wait()
				got = append(got, e.Value)
				gate.Notify()
			}, tt.flags))

			require.NoError(t, b.Send(evt(6, 0)))
			settle(t, s, b)
			require.Empty(t, got, "first handler should be parked on the lock")

			for v := 1; v <= tt.extra; v++ {
				require.NoError(t, b.Send(evt(6, uint16(v))))
			}
			settle(t, s, b)

			gate.Notify()
			settle(t, s, b)

			assert.Equal(t, tt.want, got)
			if tt.dropCause != "" {
				assert.Equal(t, tt.dropped, drops.count(tt.dropCause))
			}
		})
	}
}

func TestIgnore_WhileHandlerBlocked(t *testing.T) {
	s, b := newRunning(t)
	before := len(b.Listeners())

	gate := s.NewLock()
	gate.Wait()

	calls := 0
	h := func(event.Event) {
		gate.Wait()
		calls++
		gate.Notify()
	}
	require.NoError(t, b.ListenFunc(6, 0, h, 0))
	require.NoError(t, b.Send(evt(6, 0)))
	settle(t, s, b)

	require.NoError(t, b.IgnoreFunc(6, 0, h))
	b.IdleTick()
	assert.Len(t, b.Listeners(), before)

	// The blocked invocation still runs to completion.
	gate.Notify()
	settle(t, s, b)
	assert.Equal(t, 1, calls)

	require.NoError(t, b.Send(evt(6, 0)))
	settle(t, s, b)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, b.IgnoreFunc(6, 0, h), fberrors.ErrInvalidParameter)
}
