package compute

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistryConsistencyConcurrent(t *testing.T) {
	const n = 8
	const m = 3 // contexts to finalize

	reg := NewRegistry()
	ctxs := make([]*Context, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		ctxs[i] = New(Config{Registry: reg})
		wg.Add(1)
		go func(c *Context) {
			defer wg.Done()
			if err := c.Initialize(newMockDevice()); err != nil {
				t.Errorf("Initialize() error = %v", err)
			}
		}(ctxs[i])
	}
	wg.Wait()

	if reg.Len() != n {
		t.Fatalf("registry Len() = %d after %d initializations, want %d", reg.Len(), n, n)
	}

	finalized := make([]Queue, m)
	for i := 0; i < m; i++ {
		finalized[i] = ctxs[i].Queue()
		wg.Add(1)
		go func(c *Context) {
			defer wg.Done()
			if err := c.Finalize(); err != nil {
				t.Errorf("Finalize() error = %v", err)
			}
		}(ctxs[i])
	}
	wg.Wait()

	if reg.Len() != n-m {
		t.Errorf("registry Len() = %d, want %d", reg.Len(), n-m)
	}
	for i, q := range finalized {
		if reg.Contains(q) {
			t.Errorf("finalized context %d still registered", i)
		}
	}
	for i := m; i < n; i++ {
		if !reg.Contains(ctxs[i].Queue()) {
			t.Errorf("live context %d missing from registry", i)
		}
	}

	for i := m; i < n; i++ {
		if err := ctxs[i].Finalize(); err != nil {
			t.Errorf("Finalize() error = %v", err)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len() = %d after full teardown, want 0", reg.Len())
	}
}

func TestFenceAll(t *testing.T) {
	reg := NewRegistry()
	queues := make([]*mockQueue, 3)
	for i := range queues {
		ctx := New(Config{Registry: reg})
		if err := ctx.Initialize(newMockDevice()); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		queues[i] = ctx.Queue().(*mockQueue)
	}

	before := make([]int, len(queues))
	for i, q := range queues {
		q.mu.Lock()
		before[i] = q.waits
		q.mu.Unlock()
	}

	if err := reg.FenceAll("gogpu/compute: test: global barrier"); err != nil {
		t.Fatalf("FenceAll() error = %v", err)
	}
	for i, q := range queues {
		q.mu.Lock()
		waits := q.waits
		q.mu.Unlock()
		if waits != before[i]+1 {
			t.Errorf("queue %d waits = %d, want %d", i, waits, before[i]+1)
		}
	}
}

func TestFenceAllCollectsErrors(t *testing.T) {
	reg := NewRegistry()
	var bad, good *mockQueue
	for i := 0; i < 2; i++ {
		ctx := New(Config{Registry: reg})
		if err := ctx.Initialize(newMockDevice()); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if i == 0 {
			bad = ctx.Queue().(*mockQueue)
		} else {
			good = ctx.Queue().(*mockQueue)
		}
	}

	bad.mu.Lock()
	bad.waitErr = errors.New("stuck queue")
	goodWaits := 0
	bad.mu.Unlock()
	good.mu.Lock()
	goodWaits = good.waits
	good.mu.Unlock()

	err := reg.FenceAll("gogpu/compute: test: global barrier")
	var derr *DeviceError
	if !errors.As(err, &derr) {
		t.Errorf("FenceAll() error = %v, want *DeviceError in the chain", err)
	}

	// The failing queue must not starve the others.
	good.mu.Lock()
	defer good.mu.Unlock()
	if good.waits != goodWaits+1 {
		t.Error("healthy queue was not fenced after another queue failed")
	}
}
