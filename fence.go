package compute

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies compute fence spans to the OpenTelemetry provider.
const tracerName = "github.com/gogpu/compute"

// fenceWait blocks on the waitable and translates any runtime error into a
// *DeviceError carrying the original message. The wait is bracketed by a
// tracer span named after the label so an external profiler can observe
// fence start and end; install a provider with the profile package (or
// otel.SetTracerProvider) to collect them.
func fenceWait(w Waitable, label string, attrs ...attribute.KeyValue) error {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(context.Background(), label,
		trace.WithAttributes(attrs...))
	defer span.End()

	if err := w.Wait(); err != nil {
		derr := &DeviceError{Op: "fence", Err: err}
		span.RecordError(derr)
		span.SetStatus(codes.Error, derr.Error())
		return derr
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Fence blocks until all work previously submitted to the context's queue
// has completed. Asynchronous errors reported by the runtime since the
// last fence are drained first and returned as a single DeviceError;
// errors raised by the wait itself are translated the same way. Fence
// never swallows a device error.
func (c *Context) Fence(label string) error {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return ErrNotInitialized
	}
	return c.fence(q, label)
}

// FenceEvent blocks until the given event has completed, with the same
// error translation and profiling behavior as Fence.
func (c *Context) FenceEvent(ev Event, label string) error {
	return c.fence(ev, label)
}

func (c *Context) fence(w Waitable, label string) error {
	if err := c.drainAsync(); err != nil {
		return err
	}
	return fenceWait(w, label,
		attribute.Int("compute.instance_id", int(c.instanceID)),
		attribute.String("compute.context_uid", c.uid.String()),
	)
}

// pushAsync is the queue error callback: it collects errors raised
// asynchronously by the runtime until the next fence drains them.
func (c *Context) pushAsync(err error) {
	if err == nil {
		return
	}
	c.asyncMu.Lock()
	c.asyncErrs = append(c.asyncErrs, err)
	c.asyncMu.Unlock()
}

// drainAsync converts all pending asynchronous errors into one DeviceError
// on the synchronous error path. Returns nil when none are pending.
func (c *Context) drainAsync() error {
	c.asyncMu.Lock()
	pending := c.asyncErrs
	c.asyncErrs = nil
	c.asyncMu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return &DeviceError{Op: "fence", Async: true, Err: errors.Join(pending...)}
}
