package compute

import (
	"errors"
	"sync"
)

// mockDevice implements Device for testing. The default capabilities give
// maxConcurrency = 256 * 2 * 2 = 1024.
type mockDevice struct {
	workgroupSize int
	computeUnits  int
	shmem         int
	queueErr      error

	mu     sync.Mutex
	queues int
}

func newMockDevice() *mockDevice {
	return &mockDevice{workgroupSize: 256, computeUnits: 2, shmem: 32768}
}

func (d *mockDevice) NewQueue(onError func(error)) (Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queueErr != nil {
		return nil, d.queueErr
	}
	d.queues++
	return newMockQueue(d, onError), nil
}

// queueCount returns how many queues the device has handed out.
func (d *mockDevice) queueCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues
}

func (d *mockDevice) MaxWorkgroupSize() int     { return d.workgroupSize }
func (d *mockDevice) MaxComputeUnits() int      { return d.computeUnits }
func (d *mockDevice) MaxSharedMemPerBlock() int { return d.shmem }

// mockPtr implements Ptr over a host byte slice, so tests can inspect and
// scribble over "device" memory.
type mockPtr struct {
	data  []byte
	kind  AllocKind
	label string
}

func (p *mockPtr) Size() int { return len(p.data) }

// mockQueue implements Queue with instrumented alloc/free counting, so
// tests can assert exactly-once frees and detect double releases.
type mockQueue struct {
	dev     *mockDevice
	onError func(error)

	mu          sync.Mutex
	allocs      int
	frees       int
	doubleFrees int
	memsets     int
	writes      int
	waits       int
	live        map[*mockPtr]struct{}

	allocErr error // returned by the next Alloc, then cleared
	waitErr  error // returned by the next Wait, then cleared

	lastMemsetEvent *mockEvent
}

func newMockQueue(d *mockDevice, onError func(error)) *mockQueue {
	return &mockQueue{dev: d, onError: onError, live: map[*mockPtr]struct{}{}}
}

func (q *mockQueue) Device() Device { return q.dev }

func (q *mockQueue) Alloc(kind AllocKind, label string, size int) (Ptr, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.allocErr != nil {
		err := q.allocErr
		q.allocErr = nil
		return nil, err
	}
	p := &mockPtr{data: make([]byte, size), kind: kind, label: label}
	q.live[p] = struct{}{}
	q.allocs++
	return p, nil
}

func (q *mockQueue) Free(p Ptr) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mp, ok := p.(*mockPtr)
	if !ok {
		return
	}
	if _, live := q.live[mp]; !live {
		q.doubleFrees++
		return
	}
	delete(q.live, mp)
	q.frees++
}

func (q *mockQueue) Memset(p Ptr, value byte, n int) (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mp := p.(*mockPtr)
	for i := 0; i < n && i < len(mp.data); i++ {
		mp.data[i] = value
	}
	q.memsets++
	ev := &mockEvent{}
	q.lastMemsetEvent = ev
	return ev, nil
}

func (q *mockQueue) Write(dst Ptr, data []byte) (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mp := dst.(*mockPtr)
	copy(mp.data, data)
	q.writes++
	return &mockEvent{}, nil
}

func (q *mockQueue) Read(src Ptr, dst []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mp := src.(*mockPtr)
	copy(dst, mp.data)
	return nil
}

func (q *mockQueue) Wait() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waits++
	if q.waitErr != nil {
		err := q.waitErr
		q.waitErr = nil
		return err
	}
	return nil
}

// injectAsync simulates the runtime raising an asynchronous error.
func (q *mockQueue) injectAsync(msg string) {
	if q.onError != nil {
		q.onError(errors.New(msg))
	}
}

// counters returns a snapshot of the instrumentation counters.
func (q *mockQueue) counters() (allocs, frees, doubleFrees int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allocs, q.frees, q.doubleFrees
}

// mockEvent implements Event. Wait returns err once and records that it
// was observed.
type mockEvent struct {
	mu     sync.Mutex
	err    error
	waited bool
}

func (e *mockEvent) Wait() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waited = true
	return e.err
}

func (e *mockEvent) wasWaited() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waited
}

// initTestContext builds an initialized context on a fresh mock device
// with a private registry.
func initTestContext(t interface{ Fatalf(string, ...any) }) (*Context, *mockQueue) {
	reg := NewRegistry()
	ctx := New(Config{Registry: reg})
	if err := ctx.Initialize(newMockDevice()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return ctx, ctx.Queue().(*mockQueue)
}
