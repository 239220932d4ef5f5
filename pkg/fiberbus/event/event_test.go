package event_test

import (
	"testing"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingModel captures raised events.
type recordingModel struct {
	sent      []event.Event
	processed []event.Event
}

func (m *recordingModel) Send(evt event.Event) error {
	m.sent = append(m.sent, evt)
	return nil
}

func (m *recordingModel) Process(evt event.Event) error {
	m.processed = append(m.processed, evt)
	return nil
}

func (m *recordingModel) Listen(uint16, uint16, event.Callback, event.Flags) error { return nil }

func (m *recordingModel) Ignore(uint16, uint16, event.Callback) error { return nil }

func TestMatches(t *testing.T) {
	evt := event.Event{Source: 5, Value: 1}

	tests := []struct {
		name  string
		id    uint16
		value uint16
		want  bool
	}{
		{"exact", 5, 1, true},
		{"any value", 5, event.ValueAny, true},
		{"any id", event.IDAny, 1, true},
		{"any any", event.IDAny, event.ValueAny, true},
		{"wrong id", 6, 1, false},
		{"wrong value", 5, 2, false},
		{"any id wrong value", event.IDAny, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evt.Matches(tt.id, tt.value))
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("queues on explicit model", func(t *testing.T) {
		m := &recordingModel{}
		evt := event.New(5, 1, event.WithModel(m), event.WithTimestamp(42))

		require.Len(t, m.sent, 1)
		assert.Equal(t, evt, m.sent[0])
		assert.Equal(t, uint64(42), evt.Timestamp)
		assert.Empty(t, m.processed)
	})

	t.Run("create and fire processes", func(t *testing.T) {
		m := &recordingModel{}
		event.New(5, 2, event.WithModel(m), event.WithLaunchMode(event.CreateAndFire))

		assert.Empty(t, m.sent)
		require.Len(t, m.processed, 1)
		assert.Equal(t, uint16(2), m.processed[0].Value)
	})

	t.Run("create only does not raise", func(t *testing.T) {
		m := &recordingModel{}
		evt := event.New(5, 3, event.WithModel(m), event.WithLaunchMode(event.CreateOnly))

		assert.Empty(t, m.sent)
		assert.Empty(t, m.processed)

		require.NoError(t, evt.FireOn(m, event.CreateAndQueue))
		assert.Len(t, m.sent, 1)
	})

	t.Run("uses clock for timestamps", func(t *testing.T) {
		event.SetClock(func() uint64 { return 1000 })
		defer event.SetClock(nil)

		evt := event.New(1, 1, event.WithLaunchMode(event.CreateOnly))
		assert.Equal(t, uint64(1000), evt.Timestamp)
	})
}

func TestFireDefaultModel(t *testing.T) {
	event.SetDefaultModel(nil)
	evt := event.Event{Source: 9, Value: 9}
	assert.ErrorIs(t, evt.Fire(), fberrors.ErrNotSupported)

	m := &recordingModel{}
	event.SetDefaultModel(m)
	defer event.SetDefaultModel(nil)

	require.NoError(t, evt.Fire())
	assert.Equal(t, []event.Event{evt}, m.sent)
	assert.Same(t, m, event.DefaultModel())
}

func TestFireOnInvalidMode(t *testing.T) {
	m := &recordingModel{}
	err := event.Event{}.FireOn(m, event.LaunchMode(99))
	assert.ErrorIs(t, err, fberrors.ErrInvalidParameter)
}

type sensor struct {
	calls int
}

func (s *sensor) onEvent(event.Event) {
	s.calls++
}

func TestCallbackEquality(t *testing.T) {
	plain := func(event.Event) {}
	other := func(event.Event) {}
	withArg := func(event.Event, any) {}

	s1, s2 := &sensor{}, &sensor{}

	// One literal, two closures over different counters.
	var closures []func(event.Event)
	for i := range 2 {
		n := 0
		closures = append(closures, func(event.Event) { n += i })
	}

	type boxed struct{ v any }

	tests := []struct {
		name string
		a, b event.Callback
		want bool
	}{
		{"same func", event.Func(plain), event.Func(plain), true},
		{"different func", event.Func(plain), event.Func(other), false},
		{"same arg", event.FuncArg(withArg, 7), event.FuncArg(withArg, 7), true},
		{"different arg", event.FuncArg(withArg, 7), event.FuncArg(withArg, 8), false},
		{"non comparable arg", event.FuncArg(withArg, []int{1}), event.FuncArg(withArg, []int{1}), false},
		{"boxed non comparable arg", event.FuncArg(withArg, boxed{[]int{1}}), event.FuncArg(withArg, boxed{[]int{2}}), false},
		{"same closure", event.Func(closures[0]), event.Func(closures[0]), true},
		{"sibling closures", event.Func(closures[0]), event.Func(closures[1]), false},
		{"same receiver", event.Method(s1, (*sensor).onEvent), event.Method(s1, (*sensor).onEvent), true},
		{"different receiver", event.Method(s1, (*sensor).onEvent), event.Method(s2, (*sensor).onEvent), false},
		{"kind mismatch", event.Func(plain), event.FuncArg(withArg, nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestCallbackCall(t *testing.T) {
	var got []any

	event.Func(func(e event.Event) { got = append(got, e.Value) }).Call(event.Event{Value: 1})
	event.FuncArg(func(e event.Event, arg any) { got = append(got, arg) }, "ctx").Call(event.Event{})

	s := &sensor{}
	event.Method(s, (*sensor).onEvent).Call(event.Event{})

	assert.Equal(t, []any{uint16(1), "ctx"}, got)
	assert.Equal(t, 1, s.calls)

	var invalid event.Callback
	assert.False(t, invalid.Valid())
	assert.False(t, event.Func(nil).Valid())
	invalid.Call(event.Event{}) // no-op
}

func TestFlags(t *testing.T) {
	assert.True(t, event.Immediate.IsImmediate())
	assert.False(t, event.NonBlocking.IsImmediate())
	assert.False(t, event.Urgent.IsImmediate())
	assert.Equal(t, event.QueueIfBusy, event.DefaultFlags)
}
