package bridge

import (
	"errors"
	"log/slog"
	"sync"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
	"github.com/randalmurphal/fiberbus/pkg/fiberbus/observability"
)

// Registry is the event model a Service attaches to. ElementAt walks the
// registered listeners in chain order.
type Registry interface {
	event.EventModel
	ElementAt(n int) (id, value uint16, ok bool)
}

// WriteKind identifies what a peer write carries.
type WriteKind int

const (
	// WriteEvents carries events the peer raises on the local bus.
	WriteEvents WriteKind = iota
	// WriteRequirements carries (id, value) filters the peer wants forwarded.
	WriteRequirements
)

type filter struct {
	id, value uint16
}

// Service links a message bus with one external peer.
//
// The peer writes records to raise events locally or to subscribe to local
// events. Subscribed events reach the peer Sink while it is connected. Once
// the peer disconnects, the next IdleTick drops its subscriptions.
type Service struct {
	model  Registry
	peer   Sink
	logger *slog.Logger
	cb     event.Callback

	mu           sync.Mutex
	connected    bool
	offset       int
	requirements []filter
}

// NewService creates a service between model and peer. logger may be nil.
func NewService(model Registry, peer Sink, logger *slog.Logger) *Service {
	s := &Service{model: model, peer: peer, logger: logger}
	s.cb = event.Method(s, (*Service).onEvent)
	return s
}

// SetConnected records whether the peer is reachable.
func (s *Service) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

// Connected reports whether the peer is reachable.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnWrite handles a write from the peer. Every complete record is applied
// even if an earlier one fails; the errors are joined.
func (s *Service) OnWrite(kind WriteKind, data []byte) error {
	events := Decode(data)

	var errs []error
	switch kind {
	case WriteEvents:
		for _, evt := range events {
			evt.Timestamp = event.Now()
			if err := s.model.Send(evt); err != nil {
				errs = append(errs, err)
			}
		}
	case WriteRequirements:
		for _, evt := range events {
			if err := s.model.Listen(evt.Source, evt.Value, s.cb, event.Immediate); err != nil {
				errs = append(errs, err)
				continue
			}
			s.mu.Lock()
			f := filter{evt.Source, evt.Value}
			if !containsFilter(s.requirements, f) {
				s.requirements = append(s.requirements, f)
			}
			s.mu.Unlock()
		}
	default:
		return fberrors.ErrInvalidParameter
	}

	err := errors.Join(errs...)
	if err != nil {
		observability.LogBridgeError(s.logger, "write", err)
	}
	return err
}

// NextRequirement returns the next local listener filter as a wire record.
// Successive calls walk the listener chain; an empty record marks its end.
func (s *Service) NextRequirement() []byte {
	s.mu.Lock()
	n := s.offset
	s.offset++
	s.mu.Unlock()

	id, value, ok := s.model.ElementAt(n)
	if !ok {
		return []byte{}
	}
	return Encode(event.Event{Source: id, Value: value})
}

// Requirements returns the filters the peer is subscribed to.
func (s *Service) Requirements() [][2]uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][2]uint16, len(s.requirements))
	for i, f := range s.requirements {
		out[i] = [2]uint16{f.id, f.value}
	}
	return out
}

// IdleTick drops the peer's subscriptions once it has disconnected.
func (s *Service) IdleTick() {
	s.mu.Lock()
	if s.connected || (s.offset == 0 && len(s.requirements) == 0) {
		s.mu.Unlock()
		return
	}
	s.offset = 0
	stale := s.requirements
	s.requirements = nil
	s.mu.Unlock()

	for _, f := range stale {
		if err := s.model.Ignore(f.id, f.value, s.cb); err != nil {
			observability.LogBridgeError(s.logger, "ignore", err)
		}
	}
}

func (s *Service) onEvent(evt event.Event) {
	if s.Connected() && s.peer != nil {
		s.peer.Forward(evt)
	}
}

func containsFilter(list []filter, f filter) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}
