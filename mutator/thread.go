// ABOUTME: MutatorThread record, suspension states, and the safe-point protocol
// ABOUTME: Implements cooperative parking and GC-disabled region nesting

package mutator

import (
	"sync/atomic"
)

// ThreadState is the tri-state suspension flag of a mutator thread
type ThreadState int32

const (
	// Running means the thread is executing mutator code
	Running ThreadState = iota
	// SuspendRequested means a trap is pending and the thread has not yet
	// parked at a safe point
	SuspendRequested
	// Suspended means the thread is parked at a safe point
	Suspended
)

// String returns a readable name for the state
func (s ThreadState) String() string {
	switch s {
	case Running:
		return "Running"
	case SuspendRequested:
		return "SuspendRequested"
	case Suspended:
		return "Suspended"
	}
	return "Unknown"
}

// Thread is the registry record for one mutator thread. Each mutator
// carries its *Thread as an explicit handle; collector-internal workers
// hold no handle, which is the "no registry entry" case of the protocol.
type Thread struct {
	reg  *Registry
	id   uint64
	name string

	state     atomic.Int32 // ThreadState
	gcDisable atomic.Int32 // nesting count of GC-disabled regions

	alloc      AllocContext
	allocYield atomic.Bool // owner yielded allocation ownership
}

// ID returns the thread's registry identity
func (t *Thread) ID() uint64 { return t.id }

// Name returns the diagnostic name given at registration
func (t *Thread) Name() string { return t.name }

// State returns the thread's current suspension state
func (t *Thread) State() ThreadState {
	return ThreadState(t.state.Load())
}

// GCDisabled reports whether the thread is inside a GC-disabled region
func (t *Thread) GCDisabled() bool {
	return t.gcDisable.Load() > 0
}

// AtSafePoint reports whether the thread is currently parked at a safe point
func (t *Thread) AtSafePoint() bool {
	return t.State() == Suspended
}

// DisablePreemptive enters a GC-disabled region. May be called recursively;
// every call must be paired with EnablePreemptive. While the nesting count
// is above zero the thread is never parked, even with a trap pending.
func (t *Thread) DisablePreemptive() {
	t.gcDisable.Add(1)
}

// EnablePreemptive exits a GC-disabled region. On the decrement that
// reaches zero with a trap pending, the thread stops immediately.
func (t *Thread) EnablePreemptive() {
	n := t.gcDisable.Add(-1)
	if n < 0 {
		t.reg.fatal(ErrUnbalancedDisable)
	}
	if n == 0 && t.reg.TrapPending() {
		t.park()
	}
}

// Safepoint is the designated cooperative poll location. Host code must
// call it on loop back-edges and call boundaries, with bounded work
// between polls; the suspension barrier's retry budget treats a thread
// that never polls as a protocol violation. When a trap is pending and
// the thread is not in a GC-disabled region, Safepoint parks the thread
// as Suspended until the collector resumes the world.
func (t *Thread) Safepoint() {
	if t.gcDisable.Load() > 0 {
		return
	}
	if !t.reg.TrapPending() {
		return
	}
	t.park()
}

// park blocks the calling thread until the in-flight suspension is
// resumed. The loop re-checks the trap so a resume immediately followed
// by a new suspension request re-parks rather than racing past it.
func (t *Thread) park() {
	r := t.reg
	r.mu.Lock()
	for r.trap.Load() {
		t.state.Store(int32(Suspended))
		r.suspendedCount++
		r.resume.Wait()
		r.suspendedCount--
	}
	t.state.Store(int32(Running))
	r.mu.Unlock()
}
