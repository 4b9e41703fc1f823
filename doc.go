// Package compute manages the lifetime and resource pool of a single
// heterogeneous-compute execution context bound to one device queue.
//
// A Context owns the device-side resources that kernel dispatch code needs
// at runtime but should not manage itself:
//
//   - Scratch space and scratch flags: growable device buffers handed out
//     as temporary workspace and atomic-flag storage during kernel
//     execution. Capacity only grows; flags are re-zeroed on every handout.
//   - Indirect kernel memory: a fixed-size round-robin pool of staging
//     buffers used to transfer kernel closure data and reduction results
//     between host and device.
//   - Concurrency token bitset: a device-resident bitset sized to the
//     device's maximum concurrency, from which running kernel instances
//     claim unique small integer tokens.
//
// The device itself is an external collaborator. Context operates against
// the Device and Queue interfaces; backend/wgpu provides a real
// implementation on top of gogpu/wgpu, and tests inject in-memory doubles.
//
// # Lifecycle
//
// A Context is either uninitialized, initialized, or finalized:
//
//	ctx := compute.New(compute.Config{})
//	if err := ctx.Initialize(device); err != nil { ... }
//	defer ctx.Close() // leak detector only; Finalize releases resources
//
//	ptr := ctx.ScratchSpace(4096)
//	...
//	if err := ctx.Finalize(); err != nil { ... }
//
// Finalize fences the queue before releasing anything, so no device kernel
// is mid-flight when buffers are freed. Initialize after Finalize is an
// error; Initialize on an already-initialized context is a no-op.
//
// # Logging
//
// By default compute produces no log output. Call SetLogger to enable it:
//
//	compute.SetLogger(slog.Default())
package compute
