package wgpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// halProvider is the optional facet of gpucontext.DeviceProvider that
// exposes the underlying HAL handles for direct access.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider adopts a shared GPU device from an external provider
// (e.g., a gogpu application's GPUContextProvider). This avoids creating
// a separate GPU instance and enables efficient device sharing. The
// provider must also implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue.
//
// The returned Device does not own the shared resources; Close leaves
// them alone.
func FromProvider(provider gpucontext.DeviceProvider, opts Options) (*Device, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}
	return newDevice(nil, device, queue, false, gputypes.DefaultLimits(), opts), nil
}
