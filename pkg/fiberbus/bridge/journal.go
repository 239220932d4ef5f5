package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
)

// Sink receives every event once the message bus has finished dispatching
// it locally. Forward must not block for long; it runs on the idle path.
type Sink interface {
	Forward(evt event.Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(evt event.Event)

// Forward implements Sink.
func (f SinkFunc) Forward(evt event.Event) {
	f(evt)
}

// Journal is a Sink that keeps the events it receives, grouped by session.
// Implementations must be safe for concurrent use.
type Journal interface {
	Sink

	// Record stores evt under the journal's current session.
	Record(ctx context.Context, evt event.Event) error

	// List returns the events recorded for a session, oldest first.
	// Returns an empty slice (not an error) for an unknown session.
	List(ctx context.Context, session string) ([]Record, error)

	// Count returns the number of events recorded for a session.
	Count(ctx context.Context, session string) (int, error)

	// Session returns the id events are currently recorded under.
	Session() string

	// Close releases any resources.
	Close() error
}

// Record is one journaled event.
type Record struct {
	Session  string
	Sequence int64
	Event    event.Event
	Recorded time.Time
}

// ErrJournalClosed indicates the journal has been closed.
var ErrJournalClosed = errors.New("event journal closed")
