// Package errors defines the result codes shared by the scheduler, the message
// bus and their collaborators.
//
// Every failure is reported as an ordinary Go error. Code maps an error back to
// the integer result code used on the wire and in logs, so components that only
// speak integers (bridges, diagnostics) can still report outcomes faithfully.
package errors

import (
	"errors"
	"fmt"
)

// OK is the result code for success.
const OK = 0

// Result codes.
const (
	CodeInvalidParameter = -1001
	CodeNotSupported     = -1002
	CodeNoResources      = -1005
	CodeBusy             = -1006
	CodeCancelled        = -1007
	CodeNoData           = -1012
	CodeUnknown          = -1099
)

// Sentinel errors.
var (
	// ErrInvalidParameter indicates a nil handler, unknown registration or out of range argument.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates the operation needs a running scheduler or an event model.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNoResources indicates the heap or a fixed-size table is exhausted.
	ErrNoResources = errors.New("no resources available")

	// ErrBusy indicates the target is already servicing a request.
	ErrBusy = errors.New("resource busy")

	// ErrCancelled indicates the operation was abandoned before completion.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoData indicates there was nothing to read.
	ErrNoData = errors.New("no data available")

	// ErrBootstrap indicates the scheduler could not allocate its first fibers.
	ErrBootstrap = errors.New("scheduler bootstrap failed")
)

var codes = []struct {
	err  error
	code int
}{
	{ErrInvalidParameter, CodeInvalidParameter},
	{ErrNotSupported, CodeNotSupported},
	{ErrNoResources, CodeNoResources},
	{ErrBootstrap, CodeNoResources},
	{ErrBusy, CodeBusy},
	{ErrCancelled, CodeCancelled},
	{ErrNoData, CodeNoData},
}

// Code returns the integer result code for err. A nil error maps to OK and an
// error outside this package maps to CodeUnknown.
func Code(err error) int {
	if err == nil {
		return OK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// FromCode returns the sentinel error for an integer result code.
// OK maps to nil.
func FromCode(code int) error {
	if code == OK {
		return nil
	}
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return fmt.Errorf("result code %d", code)
}

// FiberError wraps an error with the fiber and operation that produced it.
type FiberError struct {
	// Fiber is the printable handle of the fiber, or empty if none was allocated.
	Fiber string
	// Op is the operation that failed ("create", "invoke", "wait").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *FiberError) Error() string {
	if e.Fiber == "" {
		return fmt.Sprintf("fiber %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("fiber %s: %s: %v", e.Fiber, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FiberError) Unwrap() error {
	return e.Err
}

// ListenerError wraps an error from a listener registration.
type ListenerError struct {
	// ID is the event source filter of the listener.
	ID uint16
	// Value is the event value filter of the listener.
	Value uint16
	// Op is the operation that failed ("listen", "ignore").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener (%d,%d): %s: %v", e.ID, e.Value, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ListenerError) Unwrap() error {
	return e.Err
}
