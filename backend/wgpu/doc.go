// Package wgpu provides a compute.Device implementation backed by
// gogpu/wgpu. It uses the Pure Go WebGPU implementation (zero CGO), which
// supports Vulkan, Metal, and DX12 backends depending on the platform.
//
// Two ways to obtain a device:
//
//   - Open() creates its own instance, enumerates adapters (preferring a
//     discrete or integrated GPU) and opens a device on the best match.
//   - FromProvider() adopts a shared device/queue from a
//     gpucontext.DeviceProvider that also exposes HAL handles, avoiding a
//     second GPU instance when embedding into a gogpu application.
//
// Allocation kinds map onto WebGPU buffer usage: device allocations are
// storage buffers, shared allocations additionally allow host copy in both
// directions, and host allocations are map-read staging buffers. WebGPU
// has no device-side memset, so Memset stages a filled slice through
// Queue.WriteBuffer; completion events are fences signaled by an empty
// submit behind the queued work.
//
// WebGPU does not report compute-unit counts or workgroup-local memory
// directly; Options carries overridable defaults for both.
package wgpu
