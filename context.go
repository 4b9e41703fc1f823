package compute

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Allocation labels, attached to device allocations for debugging and
// profiling tools.
const (
	labelScratchSpace  = "gogpu/compute: internal scratch space"
	labelScratchFlags  = "gogpu/compute: internal scratch flags"
	labelScratchBitset = "gogpu/compute: internal scratch bitset"
	labelTeamScratch   = "gogpu/compute: team scratch memory"
)

// nextInstanceID hands out small numeric ids for profiling correlation.
var nextInstanceID atomic.Uint32

// Config holds construction options for a Context. The zero value is
// ready to use.
type Config struct {
	// Registry receives the context's queue between Initialize and
	// Finalize. Nil selects the process-wide DefaultRegistry.
	Registry *Registry

	// PoolSize is the number of indirect kernel memory slots.
	// Defaults to DefaultPoolSize if <= 0.
	PoolSize int

	// PoolKind is the allocation strategy for indirect kernel memory.
	// Defaults to AllocShared.
	PoolKind AllocKind
}

// Context manages the lifetime and resource pool of one execution context
// bound to one device queue: scratch buffers, indirect kernel memory, the
// concurrency token bitset and fence synchronization.
//
// A Context moves through three states: uninitialized, initialized
// (Initialize succeeded, queue present) and finalized (Finalize
// succeeded). Only Initialize is valid while uninitialized; nothing but
// state reads is valid after finalize. A finalized context can never be
// re-initialized.
//
// Context is safe for concurrent use by multiple host threads. Device
// work stays asynchronous relative to the host until a fence is issued.
type Context struct {
	registry   *Registry
	instanceID uint32
	uid        uuid.UUID

	mu           sync.Mutex
	queue        Queue
	wasFinalized bool

	// Device capabilities, queried once at initialization.
	maxWorkgroupSize int
	maxConcurrency   int
	maxShmemPerBlock int

	// Owned buffers. Capacities are tracked in grains (scratch) or bytes.
	scratchSpace  *Record
	spaceGrains   int
	scratchFlags  *Record
	flagsGrains   int
	bitset        *Record
	teamScratch   Ptr
	teamScratchSz int64

	kernelMem  *Pool
	reducerMem SlotMem

	asyncMu   sync.Mutex
	asyncErrs []error
}

// New constructs an uninitialized context. Call Initialize (or
// InitializeQueue) before requesting any resources.
func New(cfg Config) *Context {
	reg := cfg.Registry
	if reg == nil {
		reg = defaultRegistry
	}
	kind := cfg.PoolKind
	c := &Context{
		registry:   reg,
		instanceID: nextInstanceID.Add(1),
		uid:        uuid.New(),
		kernelMem:  newPool(cfg.PoolSize, kind),
	}
	c.reducerMem.kind = kind
	return c
}

// Initialize binds the context to a freshly created queue on the device.
// Asynchronous runtime errors are routed into the context and re-raised
// as a single DeviceError at the next fence.
//
// Initialize fails with ErrFinalized after Finalize and is a no-op on an
// already-initialized context. The queue is created only after the state
// transition is won, so racing Initialize calls never build a queue that
// is then abandoned.
func (c *Context) Initialize(device Device) error {
	if device == nil {
		return ErrNilDevice
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wasFinalized {
		return ErrFinalized
	}
	if c.queue != nil {
		return nil
	}

	q, err := device.NewQueue(c.pushAsync)
	if err != nil {
		return fmt.Errorf("compute: create queue: %w", err)
	}
	return c.initializeQueueLocked(q)
}

// InitializeQueue binds the context to a pre-built queue: it registers the
// queue in the live-queue registry, caches the device capabilities,
// allocates and zero-fences the concurrency token bitset, and binds the
// indirect memory pool. See Initialize for the sequencing rules.
func (c *Context) InitializeQueue(q Queue) error {
	if q == nil {
		return ErrNilQueue
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializeQueueLocked(q)
}

func (c *Context) initializeQueueLocked(q Queue) error {
	if c.wasFinalized {
		return ErrFinalized
	}
	if c.queue != nil {
		return nil
	}
	if c.scratchSpace != nil || c.scratchFlags != nil {
		return ErrAlreadyInitialized
	}

	c.queue = q
	c.registry.add(q)

	dev := q.Device()
	c.maxWorkgroupSize = dev.MaxWorkgroupSize()
	c.maxConcurrency = maxConcurrency(dev)
	c.maxShmemPerBlock = dev.MaxSharedMemPerBlock()

	if err := c.initBitsetLocked(); err != nil {
		c.registry.remove(q)
		c.queue = nil
		return err
	}

	c.teamScratchSz = 0
	c.teamScratch = nil
	c.kernelMem.bind(q, c.instanceID)
	c.reducerMem.bind(q, c.instanceID)

	Logger().Debug("compute: context initialized",
		"instance_id", c.instanceID,
		"max_workgroup_size", c.maxWorkgroupSize,
		"max_concurrency", c.maxConcurrency,
		"max_shmem_per_block", c.maxShmemPerBlock)
	return nil
}

// initBitsetLocked allocates the concurrency token bitset and zeroes it
// synchronously, so kernels launched right after initialize observe a
// fully cleared bitset. Caller must hold mu.
func (c *Context) initBitsetLocked() error {
	size := BitsetBufferBound(uint32(c.maxConcurrency)) * bitsetWordBytes
	rec, err := newRecord(c.queue, AllocDevice, labelScratchBitset, size)
	if err != nil {
		return err
	}

	ev, err := c.queue.Memset(rec.Data(), 0, size)
	if err != nil {
		rec.Release()
		return &DeviceError{Op: "memset", Err: err}
	}
	if err := c.fence(ev,
		"gogpu/compute: initialize: fence after zeroing concurrency bitset"); err != nil {
		rec.Release()
		return err
	}
	c.bitset = rec
	return nil
}

// Finalize fences the queue, releases every owned buffer, resets the
// indirect memory pool, deregisters the queue and marks the context
// finalized. The full fence before any release is what guarantees no
// device kernel is mid-flight when its buffers are freed.
//
// A second Finalize is a no-op: every pointer is nulled on release, so
// nothing can be freed twice.
func (c *Context) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wasFinalized {
		return nil
	}
	if c.queue == nil {
		return ErrNotInitialized
	}

	if err := c.fence(c.queue,
		"gogpu/compute: finalize: fence on finalization"); err != nil {
		return err
	}
	c.wasFinalized = true

	if c.scratchSpace != nil {
		c.scratchSpace.Release()
		c.scratchSpace = nil
	}
	c.spaceGrains = 0
	if c.scratchFlags != nil {
		c.scratchFlags.Release()
		c.scratchFlags = nil
	}
	c.flagsGrains = 0
	if c.bitset != nil {
		c.bitset.Release()
		c.bitset = nil
	}

	if c.teamScratchSz > 0 {
		c.queue.Free(c.teamScratch)
	}
	c.teamScratch = nil
	c.teamScratchSz = 0

	c.kernelMem.Reset()
	c.reducerMem.Reset()

	c.registry.remove(c.queue)
	c.queue = nil

	Logger().Debug("compute: context finalized", "instance_id", c.instanceID)
	return nil
}

// Close is the leak detector: a context dropped while still initialized,
// or still holding any owned buffer, reports a diagnostic. Close never
// releases anything and never fails; programs must call Finalize for
// teardown.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	leaked := (c.queue != nil && !c.wasFinalized) ||
		c.scratchSpace != nil || c.scratchFlags != nil || c.bitset != nil
	if leaked {
		Logger().Error("compute: context destroyed without Finalize",
			"instance_id", c.instanceID,
			"initialized", c.queue != nil,
			"scratch_space", c.scratchSpace != nil,
			"scratch_flags", c.scratchFlags != nil,
			"bitset", c.bitset != nil)
	}
}

// ResizeTeamScratch returns device memory for host-team scratch use,
// allocating lazily on first request. The buffer grows when bytes exceeds
// the current size and shrinks only when forceShrink is set and bytes is
// smaller; any other request returns the existing pointer unchanged.
// Contents are not preserved across a resize.
func (c *Context) ResizeTeamScratch(bytes int64, forceShrink bool) (Ptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue == nil {
		return nil, ErrNotInitialized
	}

	grow := bytes > c.teamScratchSz
	shrink := bytes < c.teamScratchSz && forceShrink
	if c.teamScratchSz != 0 && !grow && !shrink {
		return c.teamScratch, nil
	}

	if c.teamScratch != nil {
		c.queue.Free(c.teamScratch)
		c.teamScratch = nil
	}
	p, err := c.queue.Alloc(AllocDevice, labelTeamScratch, int(bytes))
	if err != nil {
		c.teamScratchSz = 0
		return nil, fmt.Errorf("compute: team scratch alloc (%d bytes): %w", bytes, err)
	}
	c.teamScratch = p
	c.teamScratchSz = bytes
	return c.teamScratch, nil
}

// NextKernelMem returns the next indirect kernel memory slot in
// round-robin order. See Pool for the aliasing contract.
func (c *Context) NextKernelMem() *SlotMem {
	return c.kernelMem.NextSlot()
}

// ReducerMem returns the dedicated slot for reduction targets. Unlike
// kernel closure memory it is not cycled: reductions are serialized by
// the dispatch layer.
func (c *Context) ReducerMem() *SlotMem {
	return &c.reducerMem
}

// KernelMemPool returns the indirect kernel memory pool.
func (c *Context) KernelMemPool() *Pool { return c.kernelMem }

// ConcurrentBitset returns the device-resident concurrency token bitset,
// or nil while the context is not initialized.
func (c *Context) ConcurrentBitset() Ptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bitset == nil {
		return nil
	}
	return c.bitset.Data()
}

// InstanceID returns the small numeric id used for profiling correlation
// and fence naming.
func (c *Context) InstanceID() uint32 { return c.instanceID }

// UID returns the context's unique id, carried on fence profiling spans.
func (c *Context) UID() uuid.UUID { return c.uid }

// Queue returns the live queue, or nil outside the initialized state.
func (c *Context) Queue() Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// IsInitialized reports whether the context holds a live queue.
func (c *Context) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue != nil
}

// WasFinalized reports whether Finalize has completed.
func (c *Context) WasFinalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wasFinalized
}

// MaxWorkgroupSize returns the device's maximum workgroup size, cached at
// initialization. Zero before Initialize.
func (c *Context) MaxWorkgroupSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxWorkgroupSize
}

// MaxConcurrency returns the derived maximum number of concurrently
// executing kernel instances. Zero before Initialize.
func (c *Context) MaxConcurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxConcurrency
}

// MaxSharedMemPerBlock returns the per-workgroup shared memory in bytes.
// Zero before Initialize.
func (c *Context) MaxSharedMemPerBlock() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxShmemPerBlock
}
