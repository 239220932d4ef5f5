package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// MemoryJournal keeps journaled events in memory. Data is lost when the
// process exits.
type MemoryJournal struct {
	mu      sync.RWMutex
	session string
	records map[string][]Record
	closed  bool
	logger  *slog.Logger
}

// NewMemoryJournal creates an empty journal with a fresh session id.
// logger may be nil.
func NewMemoryJournal(logger *slog.Logger) *MemoryJournal {
	return &MemoryJournal{
		session: uuid.NewString(),
		records: make(map[string][]Record),
		logger:  logger,
	}
}

// Forward implements Sink.
func (m *MemoryJournal) Forward(evt event.Event) {
	if err := m.Record(context.Background(), evt); err != nil {
		observability.LogBridgeError(m.logger, "journal", err)
	}
}

// Record implements Journal.
func (m *MemoryJournal) Record(_ context.Context, evt event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrJournalClosed
	}

	recs := m.records[m.session]
	m.records[m.session] = append(recs, Record{
		Session:  m.session,
		Sequence: int64(len(recs) + 1),
		Event:    evt,
		Recorded: time.Now().UTC(),
	})
	return nil
}

// List implements Journal.
func (m *MemoryJournal) List(_ context.Context, session string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrJournalClosed
	}

	recs := m.records[session]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}

// Count implements Journal.
func (m *MemoryJournal) Count(_ context.Context, session string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrJournalClosed
	}
	return len(m.records[session]), nil
}

// Session implements Journal.
func (m *MemoryJournal) Session() string {
	return m.session
}

// Close implements Journal. Closing twice is safe.
func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
