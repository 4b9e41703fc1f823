package wgpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/compute"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Backend errors.
var (
	// ErrNoBackend is returned when no wgpu backend is compiled in or
	// available on this platform.
	ErrNoBackend = errors.New("wgpu: no backend available")

	// ErrNoAdapter is returned when adapter enumeration finds no GPU.
	ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

	// ErrNoHALProvider is returned when a device provider does not expose
	// HAL handles.
	ErrNoHALProvider = errors.New("wgpu: provider does not expose HAL types")

	// ErrFenceTimeout is returned when a wait exceeds the fence timeout.
	ErrFenceTimeout = errors.New("wgpu: fence wait timed out")
)

// fenceTimeout bounds every blocking wait. The compute layer has no
// timeout semantics, so an expired fence surfaces as a device error.
const fenceTimeout = 5 * time.Second

// Capability defaults for limits WebGPU does not expose.
const (
	// DefaultComputeUnits stands in for the compute-unit count.
	DefaultComputeUnits = 32

	// DefaultSharedMemPerBlock is the WebGPU baseline for
	// maxComputeWorkgroupStorageSize.
	DefaultSharedMemPerBlock = 16384
)

// Options configures device opening.
type Options struct {
	// Backend selects the wgpu backend. Defaults to Vulkan.
	Backend gputypes.Backend

	// ComputeUnits overrides DefaultComputeUnits when > 0.
	ComputeUnits int

	// SharedMemPerBlock overrides DefaultSharedMemPerBlock when > 0.
	SharedMemPerBlock int
}

// Device implements compute.Device over a hal.Device.
type Device struct {
	instance hal.Instance // nil when adopted from a provider
	device   hal.Device
	queue    hal.Queue
	owned    bool

	workgroupSize int
	computeUnits  int
	sharedMem     int
}

var _ compute.Device = (*Device)(nil)

// Open creates a wgpu instance, picks the best adapter (discrete GPU
// first, then integrated, then whatever is left) and opens a device on
// it. Close releases the device and instance.
func Open(opts Options) (*Device, error) {
	be := opts.Backend
	if be == 0 {
		be = gputypes.BackendVulkan
	}
	backend, ok := hal.GetBackend(be)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoBackend, be)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	compute.Logger().Debug("wgpu: device opened", "adapter", selected.Info.Name)
	return newDevice(instance, openDev.Device, openDev.Queue, true, limits, opts), nil
}

func newDevice(instance hal.Instance, dev hal.Device, q hal.Queue, owned bool,
	limits gputypes.Limits, opts Options) *Device {
	units := opts.ComputeUnits
	if units <= 0 {
		units = DefaultComputeUnits
	}
	shared := opts.SharedMemPerBlock
	if shared <= 0 {
		shared = DefaultSharedMemPerBlock
	}
	return &Device{
		instance:      instance,
		device:        dev,
		queue:         q,
		owned:         owned,
		workgroupSize: int(limits.MaxComputeWorkgroupSizeX),
		computeUnits:  units,
		sharedMem:     shared,
	}
}

// Close releases the device and instance when this Device owns them.
// Devices adopted from a provider leave the shared resources alone.
func (d *Device) Close() {
	if d.owned {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.instance = nil
	d.queue = nil
}

// NewQueue returns a compute.Queue over the device's hal queue. WebGPU
// reports errors synchronously from submit and wait calls, so onError is
// retained only for errors discovered outside a caller's control flow.
func (d *Device) NewQueue(onError func(error)) (compute.Queue, error) {
	if d.device == nil || d.queue == nil {
		return nil, ErrNoBackend
	}
	return &queue{dev: d, onError: onError}, nil
}

// MaxWorkgroupSize returns the adapter's maximum workgroup dimension.
func (d *Device) MaxWorkgroupSize() int { return d.workgroupSize }

// MaxComputeUnits returns the configured compute-unit count.
func (d *Device) MaxComputeUnits() int { return d.computeUnits }

// MaxSharedMemPerBlock returns the per-workgroup storage in bytes.
func (d *Device) MaxSharedMemPerBlock() int { return d.sharedMem }

// buffer implements compute.Ptr over a hal.Buffer.
type buffer struct {
	buf  hal.Buffer
	size int
}

func (b *buffer) Size() int { return b.size }

// usageFor maps an allocation kind onto WebGPU buffer usage flags.
func usageFor(kind compute.AllocKind) gputypes.BufferUsage {
	switch kind {
	case compute.AllocHost:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	case compute.AllocShared:
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc |
			gputypes.BufferUsageCopyDst
	default: // AllocDevice
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	}
}

// queue implements compute.Queue. hal queues are externally synchronized
// by the compute layer's locking, so no extra mutex is held here.
type queue struct {
	dev     *Device
	onError func(error)
}

var _ compute.Queue = (*queue)(nil)

func (q *queue) Device() compute.Device { return q.dev }

func (q *queue) Alloc(kind compute.AllocKind, label string, size int) (compute.Ptr, error) {
	// WebGPU rejects zero-sized buffers; pad to one copy-aligned word.
	allocSize := size
	if allocSize < 4 {
		allocSize = 4
	}
	buf, err := q.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(allocSize),
		Usage: usageFor(kind),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", label, err)
	}
	return &buffer{buf: buf, size: size}, nil
}

func (q *queue) Free(p compute.Ptr) {
	b, ok := p.(*buffer)
	if !ok || b.buf == nil {
		return
	}
	q.dev.device.DestroyBuffer(b.buf)
	b.buf = nil
}

func (q *queue) Memset(p compute.Ptr, value byte, n int) (compute.Event, error) {
	b, ok := p.(*buffer)
	if !ok || b.buf == nil {
		return nil, fmt.Errorf("wgpu: memset on foreign or freed pointer")
	}
	fill := make([]byte, n)
	if value != 0 {
		for i := range fill {
			fill[i] = value
		}
	}
	q.dev.queue.WriteBuffer(b.buf, 0, fill)
	return q.signalEvent()
}

func (q *queue) Write(dst compute.Ptr, data []byte) (compute.Event, error) {
	b, ok := dst.(*buffer)
	if !ok || b.buf == nil {
		return nil, fmt.Errorf("wgpu: write to foreign or freed pointer")
	}
	q.dev.queue.WriteBuffer(b.buf, 0, data)
	return q.signalEvent()
}

func (q *queue) Read(src compute.Ptr, dst []byte) error {
	b, ok := src.(*buffer)
	if !ok || b.buf == nil {
		return fmt.Errorf("wgpu: read from foreign or freed pointer")
	}
	if err := q.dev.queue.ReadBuffer(b.buf, 0, dst); err != nil {
		return fmt.Errorf("wgpu: read buffer: %w", err)
	}
	return nil
}

// Wait blocks until all work submitted to the queue so far has completed.
func (q *queue) Wait() error {
	ev, err := q.signalEvent()
	if err != nil {
		return err
	}
	return ev.Wait()
}

// signalEvent submits an empty command list with a fence behind the
// queued work, so waiting on the fence observes everything submitted
// before it.
func (q *queue) signalEvent() (compute.Event, error) {
	fence, err := q.dev.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	if err := q.dev.queue.Submit(nil, fence, 1); err != nil {
		q.dev.device.DestroyFence(fence)
		return nil, fmt.Errorf("wgpu: submit fence: %w", err)
	}
	return &event{dev: q.dev, fence: fence}, nil
}

// event implements compute.Event over a hal.Fence. The fence is destroyed
// on first Wait; further Waits return the remembered result.
type event struct {
	dev   *Device
	fence hal.Fence
	done  bool
	err   error
}

func (e *event) Wait() error {
	if e.done {
		return e.err
	}
	e.done = true
	ok, err := e.dev.device.Wait(e.fence, 1, fenceTimeout)
	e.dev.device.DestroyFence(e.fence)
	e.fence = nil
	switch {
	case err != nil:
		e.err = fmt.Errorf("wgpu: fence wait: %w", err)
	case !ok:
		e.err = ErrFenceTimeout
	}
	return e.err
}
