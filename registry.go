package compute

import (
	"errors"
	"sync"
)

// Registry tracks the live queues of every context attached to it. It is
// the hook for global barriers: a deallocation that must not race any
// in-flight kernel fences every registered queue via FenceAll.
//
// Contexts register their queue on Initialize and deregister on Finalize.
// A process-wide default registry is used unless Config.Registry injects a
// private one (tests do, so teardown order stays under test control).
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	queues map[Queue]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[Queue]struct{})}
}

// defaultRegistry backs contexts that do not inject their own.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry shared by contexts
// constructed without an explicit one.
func DefaultRegistry() *Registry { return defaultRegistry }

func (r *Registry) add(q Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[q] = struct{}{}
}

func (r *Registry) remove(q Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, q)
}

// Len returns the number of live queues.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// Contains reports whether q is registered.
func (r *Registry) Contains(q Queue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[q]
	return ok
}

// FenceAll blocks until every registered queue has drained. The label is
// attached to the profiling span of each individual fence. All fence
// errors are collected and joined; a failing queue does not stop the
// remaining queues from being fenced.
func (r *Registry) FenceAll(label string) error {
	r.mu.Lock()
	live := make([]Queue, 0, len(r.queues))
	for q := range r.queues {
		live = append(live, q)
	}
	r.mu.Unlock()

	var errs []error
	for _, q := range live {
		if err := fenceWait(q, label); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
