package compute

import (
	"fmt"
	"sync/atomic"
)

// Record is a shared-ownership handle over one device allocation. The
// allocation is freed when the last holder releases its reference; holders
// never free the pointer directly. Records back every buffer the context
// owns (scratch space, scratch flags, concurrency bitset, pool slots).
type Record struct {
	queue Queue
	kind  AllocKind
	label string
	ptr   Ptr
	refs  atomic.Int32
}

// newRecord allocates size bytes on the queue and returns a record holding
// one reference.
func newRecord(q Queue, kind AllocKind, label string, size int) (*Record, error) {
	p, err := q.Alloc(kind, label, size)
	if err != nil {
		return nil, fmt.Errorf("compute: alloc %q (%d bytes, %s): %w", label, size, kind, err)
	}
	r := &Record{queue: q, kind: kind, label: label, ptr: p}
	r.refs.Store(1)
	return r, nil
}

// Retain adds a reference. It returns the record for chaining.
func (r *Record) Retain() *Record {
	if r.refs.Add(1) <= 1 {
		// Resurrecting a freed record is a programmer error. Report it;
		// the allocation is already gone.
		Logger().Error("compute: Retain on released allocation record", "label", r.label)
	}
	return r
}

// Release drops one reference and frees the allocation when the count
// reaches zero. Releasing more often than retaining is a programmer error
// and is reported rather than freeing twice.
func (r *Record) Release() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		r.queue.Free(r.ptr)
		r.ptr = nil
	case n < 0:
		Logger().Error("compute: Release on released allocation record", "label", r.label)
	}
}

// Data returns the allocation handle, or nil once the record is released.
func (r *Record) Data() Ptr { return r.ptr }

// Size returns the allocation size in bytes, or 0 once released.
func (r *Record) Size() int {
	if r.ptr == nil {
		return 0
	}
	return r.ptr.Size()
}

// Label returns the debug name given at allocation.
func (r *Record) Label() string { return r.label }

// Kind returns the allocation strategy of the record.
func (r *Record) Kind() AllocKind { return r.kind }
