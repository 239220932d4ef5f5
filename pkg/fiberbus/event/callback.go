package event

import (
	"reflect"
	"unsafe"
)

// Flags select how a listener is dispatched.
type Flags uint16

// Listener dispatch flags.
const (
	// Reentrant lets a new event enter the handler while a previous one is still running.
	Reentrant Flags = 0x0008
	// QueueIfBusy buffers events that arrive while the handler is running.
	QueueIfBusy Flags = 0x0010
	// DropIfBusy discards events that arrive while the handler is running.
	DropIfBusy Flags = 0x0020
	// NonBlocking runs the handler inline, never in a fiber of its own.
	NonBlocking Flags = 0x0040
	// Urgent runs the handler before Send returns.
	Urgent Flags = 0x0080

	// Immediate is NonBlocking|Urgent: the handler completes before the raising call returns.
	Immediate = NonBlocking | Urgent

	// DefaultFlags applies when a listener is registered without explicit flags.
	DefaultFlags = QueueIfBusy
)

// IsImmediate reports whether both NonBlocking and Urgent are set.
func (f Flags) IsImmediate() bool {
	return f&Immediate == Immediate
}

type callbackKind uint8

const (
	kindNone callbackKind = iota
	kindFunc
	kindFuncArg
	kindMethod
)

// Callback is a listener handler: a plain function, a function with an opaque
// argument, or a method bound to a receiver. Two callbacks are equal when they
// wrap the same func value with the same argument or receiver, so Ignore must
// be given the func value that was registered. Each evaluation of a closure
// or method value makes a new func value.
type Callback struct {
	kind  callbackKind
	code  unsafe.Pointer
	fn    func(Event)
	fnArg func(Event, any)
	arg   any
	recv  any
}

// Func wraps a plain handler. A nil fn yields an invalid Callback.
func Func(fn func(Event)) Callback {
	if fn == nil {
		return Callback{}
	}
	return Callback{kind: kindFunc, code: codeOf(fn), fn: fn}
}

// FuncArg wraps a handler that receives an opaque argument on every call.
func FuncArg(fn func(Event, any), arg any) Callback {
	if fn == nil {
		return Callback{}
	}
	return Callback{kind: kindFuncArg, code: codeOf(fn), fnArg: fn, arg: arg}
}

// Method binds a method expression to a receiver:
//
//	event.Method(sensor, (*Sensor).onCalibrate)
func Method[T comparable](recv T, fn func(T, Event)) Callback {
	if fn == nil {
		return Callback{}
	}
	return Callback{
		kind: kindMethod,
		code: codeOf(fn),
		fn:   func(e Event) { fn(recv, e) },
		recv: recv,
	}
}

// Valid reports whether the callback has a handler.
func (c Callback) Valid() bool {
	return c.kind != kindNone
}

// Call invokes the handler. Calling an invalid callback does nothing.
func (c Callback) Call(e Event) {
	switch c.kind {
	case kindFunc, kindMethod:
		c.fn(e)
	case kindFuncArg:
		c.fnArg(e, c.arg)
	}
}

// Equal reports whether c and o name the same handler.
func (c Callback) Equal(o Callback) bool {
	if c.kind != o.kind || c.code != o.code {
		return false
	}
	switch c.kind {
	case kindFuncArg:
		return sameValue(c.arg, o.arg)
	case kindMethod:
		return sameValue(c.recv, o.recv)
	}
	return true
}

// codeOf returns the identity of a func value: the closure record it points
// to. Copies of one func value share it; separate closures do not.
func codeOf[F any](fn F) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&fn))
}

// sameValue compares two dynamic values. Values that cannot be compared,
// including structs hiding a slice or map behind an interface field, are
// never equal.
func sameValue(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
