package compute

import (
	"errors"
	"fmt"
)

// Lifecycle and resource errors.
var (
	// ErrNotInitialized is returned when an operation requires an
	// initialized context.
	ErrNotInitialized = errors.New("compute: context not initialized")

	// ErrFinalized is returned when Initialize is called after Finalize.
	// This is distinct from ErrNotInitialized: a finalized context can
	// never be revived.
	ErrFinalized = errors.New("compute: context already finalized")

	// ErrAlreadyInitialized is returned when initialization finds live
	// scratch buffers from a previous, incompletely torn down state.
	ErrAlreadyInitialized = errors.New("compute: context already initialized")

	// ErrNilQueue is returned when initializing with a nil queue.
	ErrNilQueue = errors.New("compute: queue is nil")

	// ErrNilDevice is returned when initializing with a nil device.
	ErrNilDevice = errors.New("compute: device is nil")

	// ErrSlotUnbound is returned when reserving a pool slot that has no
	// queue bound (context not initialized, or slot already reset).
	ErrSlotUnbound = errors.New("compute: pool slot not bound to a queue")
)

// DeviceError wraps an error reported by the device runtime. Errors raised
// asynchronously by the queue are collected and surfaced as a single
// DeviceError at the next fence; errors raised synchronously during a wait
// are translated at the fence boundary. Either way the original message is
// preserved and reachable via errors.Unwrap.
type DeviceError struct {
	// Op names the operation during which the error surfaced ("fence",
	// "memset", "alloc", ...).
	Op string

	// Async is true when the error was raised asynchronously by the
	// runtime and drained at a fence, rather than returned by the wait
	// itself.
	Async bool

	// Err is the underlying runtime error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Async {
		return fmt.Sprintf("compute: %s: asynchronous device error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("compute: %s: synchronous device error: %v", e.Op, e.Err)
}

// Unwrap returns the underlying runtime error.
func (e *DeviceError) Unwrap() error { return e.Err }
