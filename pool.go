package compute

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultPoolSize is the number of indirect kernel memory slots a context
// creates unless Config.PoolSize overrides it.
const DefaultPoolSize = 8

const labelSlotMem = "gogpu/compute: indirect memory slot"

// SlotMem is one reusable staging buffer for indirect kernel memory: a
// device allocation paired with a host staging mirror of equal capacity.
// Kernel dispatch copies closure data or reduction targets through it when
// direct embedding is not possible.
//
// Capacity grows monotonically and never shrinks; Reserve replaces both
// the device allocation and the staging mirror when growth is needed.
// A slot is bound to the owning context's queue while the context is
// initialized and unbound by Reset during finalize.
type SlotMem struct {
	kind AllocKind

	// mu serializes CopyFrom: the round-robin handout protocol permits
	// two callers to briefly hold the same slot, and the copy step is the
	// point where that aliasing must collapse into an ordering.
	mu sync.Mutex

	queue      Queue
	instanceID uint32
	rec        *Record
	staging    []byte
	capacity   int
	lastEvent  Event
}

// bind attaches the slot to a queue. Called during context initialize.
func (s *SlotMem) bind(q Queue, instanceID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = q
	s.instanceID = instanceID
}

// Reserve grows the slot to hold at least n bytes and returns the new
// capacity. The old device allocation's reference is released first so the
// allocator may reuse it; the host staging mirror is reallocated to match.
// Requests at or below the current capacity leave the slot untouched.
func (s *SlotMem) Reserve(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(n)
}

func (s *SlotMem) reserveLocked(n int) (int, error) {
	if s.queue == nil {
		return 0, ErrSlotUnbound
	}
	if n <= s.capacity {
		return s.capacity, nil
	}

	// Free what we have first, in case the allocator can reuse it.
	if s.rec != nil {
		s.rec.Release()
		s.rec = nil
	}
	rec, err := newRecord(s.queue, s.kind, labelSlotMem, n)
	if err != nil {
		s.staging = nil
		s.capacity = 0
		return 0, err
	}
	s.rec = rec
	s.staging = make([]byte, n)
	s.capacity = n
	return s.capacity, nil
}

// CopyFrom stages data into the slot and schedules the upload to the
// device allocation, growing the slot if needed. It first waits on the
// previous occupant's completion event, so a caller that received an
// aliased slot merely blocks until the prior kernel is done with it.
// Returns the device pointer the kernel should read. A zero-byte payload
// on a never-reserved slot needs no device memory and yields a nil
// pointer.
func (s *SlotMem) CopyFrom(data []byte) (Ptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastEvent != nil {
		err := fenceWait(s.lastEvent,
			"gogpu/compute: indirect memory: fence before reuse",
			attribute.Int("compute.instance_id", int(s.instanceID)))
		if err != nil {
			return nil, err
		}
		s.lastEvent = nil
	}

	if _, err := s.reserveLocked(len(data)); err != nil {
		return nil, err
	}
	if s.rec == nil {
		return nil, nil
	}
	copy(s.staging, data)

	ev, err := s.queue.Write(s.rec.Data(), s.staging[:len(data)])
	if err != nil {
		return nil, fmt.Errorf("compute: indirect memory write: %w", err)
	}
	s.lastEvent = ev
	return s.rec.Data(), nil
}

// Fetch waits for the slot's pending upload (if any) and reads the device
// allocation back into the staging mirror, returning it. Kernel dispatch
// uses this to collect reduction results.
func (s *SlotMem) Fetch() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue == nil || s.rec == nil {
		return nil, ErrSlotUnbound
	}
	if s.lastEvent != nil {
		err := fenceWait(s.lastEvent,
			"gogpu/compute: indirect memory: fence before readback",
			attribute.Int("compute.instance_id", int(s.instanceID)))
		if err != nil {
			return nil, err
		}
		s.lastEvent = nil
	}
	if err := s.queue.Read(s.rec.Data(), s.staging); err != nil {
		return nil, fmt.Errorf("compute: indirect memory read: %w", err)
	}
	return s.staging, nil
}

// SetLastEvent records the completion event of the kernel currently using
// the slot. The next CopyFrom waits on it before touching the memory.
func (s *SlotMem) SetLastEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvent = ev
}

// Ptr returns the device allocation handle, or nil while unreserved.
func (s *SlotMem) Ptr() Ptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	return s.rec.Data()
}

// Capacity returns the slot capacity in bytes.
func (s *SlotMem) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Reset releases the slot's device allocation and clears its queue
// association. Called for every slot during context finalize, after the
// finalize fence has guaranteed no kernel is mid-flight.
func (s *SlotMem) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		s.rec.Release()
		s.rec = nil
	}
	s.staging = nil
	s.capacity = 0
	s.lastEvent = nil
	s.queue = nil
}

// Pool is the fixed-size round-robin pool of indirect kernel memory slots.
// Handout is a single atomic wrapping cursor, not a lock: under contention
// two callers may receive the same slot. That aliasing is benign because
// SlotMem.CopyFrom is mutually exclusive and waits on the previous
// occupant's completion event; the pool trades strict isolation for
// throughput.
type Pool struct {
	slots  []SlotMem
	cursor atomic.Uint32
}

func newPool(size int, kind AllocKind) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &Pool{slots: make([]SlotMem, size)}
	for i := range p.slots {
		p.slots[i].kind = kind
	}
	return p
}

// Size returns the number of slots in the pool.
func (p *Pool) Size() int { return len(p.slots) }

// NextSlot returns the next slot in round-robin order, wrapping at the
// pool size. See the Pool doc for the aliasing contract.
func (p *Pool) NextSlot() *SlotMem {
	return &p.slots[p.next()]
}

// next is a wrapping fetch-and-increment of the cursor modulo the pool
// size. Relaxed semantics are fine: the cursor only spreads load.
func (p *Pool) next() uint32 {
	for {
		cur := p.cursor.Load()
		nxt := cur + 1
		if nxt >= uint32(len(p.slots)) {
			nxt = 0
		}
		if p.cursor.CompareAndSwap(cur, nxt) {
			return cur
		}
	}
}

func (p *Pool) bind(q Queue, instanceID uint32) {
	for i := range p.slots {
		p.slots[i].bind(q, instanceID)
	}
}

// Reset releases every slot. Used only during context finalize.
func (p *Pool) Reset() {
	for i := range p.slots {
		p.slots[i].Reset()
	}
}
