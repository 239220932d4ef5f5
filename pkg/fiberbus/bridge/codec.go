// Package bridge mirrors message bus traffic to and from an external peer.
//
// On the wire an event is a 4-byte record: the source id then the value,
// each a little-endian uint16. Timestamps are local and never transmitted.
//
// A Sink receives events after local dispatch has finished. Journals are
// sinks that keep what they receive; Service speaks the record format with a
// connected peer and subscribes to the events the peer asks for.
package bridge

import (
	"encoding/binary"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/event"
)

// RecordSize is the encoded size of one event.
const RecordSize = 4

// Encode returns the wire record for evt.
func Encode(evt event.Event) []byte {
	return AppendEncode(make([]byte, 0, RecordSize), evt)
}

// AppendEncode appends the wire record for evt to dst.
func AppendEncode(dst []byte, evt event.Event) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, evt.Source)
	return binary.LittleEndian.AppendUint16(dst, evt.Value)
}

// Decode splits data into events. A trailing partial record is ignored.
// Decoded events carry no timestamp.
func Decode(data []byte) []event.Event {
	events := make([]event.Event, 0, len(data)/RecordSize)
	for len(data) >= RecordSize {
		events = append(events, event.Event{
			Source: binary.LittleEndian.Uint16(data[0:2]),
			Value:  binary.LittleEndian.Uint16(data[2:4]),
		})
		data = data[RecordSize:]
	}
	return events
}
