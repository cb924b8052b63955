package store

import (
	"sync"
	"sync/atomic"
)

// Handle identifies one hook registration. Handles are unique across all
// hook lists in the process, so unregistering a handle on the wrong list is
// a harmless no-op.
type Handle uint64

var handleSeq atomic.Uint64

func nextHandle() Handle {
	return Handle(handleSeq.Add(1))
}

type hookEntry[F any] struct {
	handle Handle
	fn     F
}

// Hooks is an ordered list of callbacks. The zero value is ready to use.
type Hooks[F any] struct {
	mu      sync.Mutex
	entries []hookEntry[F]
}

// Add appends fn and returns its handle. Adding the same function twice
// registers it twice.
func (h *Hooks[F]) Add(fn F) Handle {
	handle := nextHandle()
	h.mu.Lock()
	h.entries = append(h.entries, hookEntry[F]{handle: handle, fn: fn})
	h.mu.Unlock()
	return handle
}

// Remove unregisters the hook with the given handle.
// Returns false if no hook with that handle is registered.
func (h *Hooks[F]) Remove(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.handle == handle {
			h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every hook.
func (h *Hooks[F]) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

// Len returns the number of registered hooks.
func (h *Hooks[F]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Snapshot returns the registered callbacks in registration order.
func (h *Hooks[F]) Snapshot() []F {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]F, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.fn
	}
	return out
}

// Dispatch calls call for each hook registered at the time of the call, in
// registration order. A hook that panics is recovered and reported to
// onPanic (when non-nil) and the remaining hooks still run. Returns the
// number of hooks that panicked.
func (h *Hooks[F]) Dispatch(call func(F), onPanic func(index int, recovered any)) int {
	failed := 0
	for i, fn := range h.Snapshot() {
		if r := invokeRecovering(func() { call(fn) }); r != nil {
			failed++
			if onPanic != nil {
				onPanic(i, r)
			}
		}
	}
	return failed
}

// invokeRecovering runs fn and returns the recovered panic value, if any.
func invokeRecovering(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}

// notifyQueue delivers the notifications of one Map or Collection in the
// order their mutations were committed. A mutation enqueues while holding
// the owner's write lock and drains after releasing it. A drain that finds
// another drain in progress returns at once and leaves delivery to it, so a
// hook can mutate the instance that notified it: the nested notification is
// delivered as soon as the current one finishes.
type notifyQueue struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

func (q *notifyQueue) enqueue(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

func (q *notifyQueue) drain() {
	q.mu.Lock()
	if q.draining || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
		q.mu.Lock()
	}
	// Cleared under the lock that saw the queue empty.
	q.draining = false
	q.mu.Unlock()
}
