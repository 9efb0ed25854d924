// ABOUTME: Per-thread allocation contexts consumed and refilled by the heap manager
// ABOUTME: Enforces owner-exclusive access with refill gated on suspension or yield

package mutator

import (
	"errors"

	"github.com/jsportaro/coreclr/heap"
)

// ErrAllocOwnership indicates a refill was attempted while the owning
// thread was running and had not yielded allocation ownership
var ErrAllocOwnership = errors.New("mutator: alloc context refill while owner holds it")

// AllocContext is a [Cursor, Limit) allocation window into a heap segment,
// owned exclusively by one thread. The owner bumps Cursor on its fast
// path; nobody else touches the pair while the owner runs.
type AllocContext struct {
	Cursor uintptr
	Limit  uintptr
}

// Remaining returns the unconsumed bytes of the window
func (ac AllocContext) Remaining() uintptr {
	if ac.Limit < ac.Cursor {
		return 0
	}
	return ac.Limit - ac.Cursor
}

// AllocContext returns a copy of the thread's current allocation window.
// Only the owner, or the heap manager while the owner is parked or has
// yielded, may rely on the value staying current.
func (t *Thread) AllocContext() AllocContext {
	return t.alloc
}

// Bump advances the allocation cursor by size, returning the allocation
// base, or false if the window is exhausted. Owner-only.
func (t *Thread) Bump(size uintptr) (uintptr, bool) {
	if t.alloc.Remaining() < size {
		return 0, false
	}
	base := t.alloc.Cursor
	t.alloc.Cursor += size
	return base, true
}

// YieldAllocOwnership hands the allocation context to the heap manager
// until ReclaimAllocOwnership. The owner must not allocate in between.
// The yield flag alone does not publish a refill; the owner learns out
// of band that the manager is done, and ReclaimAllocOwnership passes
// through the registry lock so the refilled window is visible to the
// owner's next Bump.
func (t *Thread) YieldAllocOwnership() {
	t.allocYield.Store(true)
}

// ReclaimAllocOwnership takes the allocation context back after a yield.
// Must not be called before the heap manager is done with the context.
func (t *Thread) ReclaimAllocOwnership() {
	t.reg.mu.Lock()
	t.allocYield.Store(false)
	t.reg.mu.Unlock()
}

// RefillAllocContext installs a fresh allocation window. The heap manager
// may call this only while the owning thread is Suspended or has yielded
// ownership; any other timing races the owner's bump pointer and is
// rejected. The write happens under the registry lock, which both the
// resume path and ReclaimAllocOwnership pass through before the owner
// touches the context again.
func (t *Thread) RefillAllocContext(r heap.AddrRange) error {
	reg := t.reg
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t.State() != Suspended && !t.allocYield.Load() {
		return ErrAllocOwnership
	}
	t.alloc = AllocContext{Cursor: r.Base, Limit: r.Limit}
	return nil
}

// EnumAllocContexts calls fn with every live allocation context. The heap
// manager uses this during a pause to retire or refill windows; calling it
// while mutators run sees a racy snapshot and is only useful for
// accounting.
func (r *Registry) EnumAllocContexts(fn func(t *Thread, ac AllocContext)) {
	r.ForEachThread(func(t *Thread) {
		fn(t, t.alloc)
	})
}
