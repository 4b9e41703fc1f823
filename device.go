package compute

// AllocKind selects the allocation strategy for a device buffer.
type AllocKind int

const (
	// AllocShared allocates unified memory accessible from both host and
	// device. Used for indirect kernel memory by default.
	AllocShared AllocKind = iota

	// AllocDevice allocates device-only memory. Used for scratch space,
	// scratch flags and the concurrency token bitset.
	AllocDevice

	// AllocHost allocates host-pinned memory visible to the device.
	AllocHost
)

// String returns the string representation of AllocKind.
func (k AllocKind) String() string {
	switch k {
	case AllocShared:
		return "shared"
	case AllocDevice:
		return "device"
	case AllocHost:
		return "host"
	default:
		return "unknown"
	}
}

// Ptr is an opaque handle to one live device allocation. A nil Ptr is the
// null pointer. Handles are owned by exactly one Record (or by the context
// directly, for team scratch) and become invalid once released.
type Ptr interface {
	// Size returns the allocation size in bytes.
	Size() int
}

// Waitable is the common blocking facet of Queue and Event, consumed by
// the fence helper. Wait blocks until all work the handle represents has
// completed, or until the runtime reports an error. There is no timeout or
// cancellation at this layer.
type Waitable interface {
	Wait() error
}

// Event represents one asynchronous device operation in flight.
type Event interface {
	Waitable
}

// Queue is an ordered command stream to a compute device. Implementations
// must be comparable (pointer types), since queues are used as registry
// set members.
type Queue interface {
	Waitable

	// Device returns the device this queue submits to.
	Device() Device

	// Alloc allocates size bytes of kind memory. The label is a debug
	// name attached to the allocation.
	Alloc(kind AllocKind, label string, size int) (Ptr, error)

	// Free releases an allocation obtained from Alloc.
	Free(p Ptr)

	// Memset asynchronously fills the allocation with the byte value.
	// The returned event completes when the fill is visible to
	// subsequently launched kernels.
	Memset(p Ptr, value byte, n int) (Event, error)

	// Write asynchronously copies data from host memory into the
	// allocation.
	Write(dst Ptr, data []byte) (Event, error)

	// Read synchronously copies len(dst) bytes from the allocation into
	// host memory.
	Read(src Ptr, dst []byte) error
}

// Device is an opaque handle to a compute device. It creates queues and
// answers the capability queries cached by Context at initialization.
type Device interface {
	// NewQueue creates an in-order queue on the device. Errors raised
	// asynchronously by the runtime are delivered to onError; Context
	// aggregates them and re-raises at the next fence.
	NewQueue(onError func(error)) (Queue, error)

	// MaxWorkgroupSize returns the largest workgroup the device executes.
	MaxWorkgroupSize() int

	// MaxComputeUnits returns the number of compute units on the device.
	MaxComputeUnits() int

	// MaxSharedMemPerBlock returns the local/shared memory available to
	// one workgroup, in bytes.
	MaxSharedMemPerBlock() int
}

// maxConcurrency derives the number of kernel instances that can execute
// simultaneously from the device capabilities. The factor of two keeps the
// token bitset large enough for devices that co-schedule two workgroups
// per compute unit.
func maxConcurrency(d Device) int {
	return d.MaxWorkgroupSize() * 2 * d.MaxComputeUnits()
}
