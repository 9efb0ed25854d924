// ABOUTME: Heap-manager capability interface and the World services handle
// ABOUTME: Defines the mutating-phase contract and the collection outcome record

package cycle

import (
	"github.com/jsportaro/coreclr/barrier"
	"github.com/jsportaro/coreclr/diag"
	"github.com/jsportaro/coreclr/heap"
	"github.com/jsportaro/coreclr/mutator"
	"github.com/jsportaro/coreclr/scan"
)

// Outcome is what the heap manager reports back from its mutating phase
type Outcome struct {
	// Reason records why this cycle ran, for the end-of-cycle notification
	Reason diag.Reason

	// Survivors lists the survivor-set walks the heap manager completed,
	// in the order their notifications should fire
	Survivors []diag.SurvivorKind

	// FReachableWalked is set when finalizer-reachable objects were walked
	FReachableWalked bool

	// FoundFinalizers is set when finalizable survivors exist; it drives
	// the finalization-pending signal
	FoundFinalizers bool

	// Demoted is set when sync-block cache entries were demoted rather
	// than promoted
	Demoted bool

	// Relocation, when non-nil, is the card-table descriptor for the new
	// heap layout; the coordinator installs it before any mutator resumes
	Relocation *barrier.Descriptor
}

// HeapManager is the coordinator's view of the collection algorithm. The
// algorithms themselves (mark, sweep, compact, promotion heuristics) are
// entirely the implementation's concern; the coordinator only decides when
// they run and what holds while they do.
type HeapManager interface {
	// Promote is the promotion callback fed by the root scan. It is
	// invoked once per distinct root location per pass and may see the
	// same object from several locations; it must be idempotent with
	// respect to the survivor set.
	Promote(loc scan.RootLoc, ref heap.ObjID)

	// Collect runs the collection algorithm. All mutators are suspended
	// for the whole call; w grants rescans, dirty-card draining, and
	// allocation-context access. Collect must not trigger a nested
	// collection.
	Collect(c Cycle, w *World) Outcome
}

// ConcurrentMarker is implemented by heap managers that support
// background cycles. ConcurrentMark runs while mutators execute; the
// marker observes new cross-generation and cross-color references only
// through the write barrier.
type ConcurrentMarker interface {
	ConcurrentMark(c Cycle, w *World)
}

// World is the services handle passed to the heap manager during a cycle.
// It is valid only for the duration of the call it was passed to.
type World struct {
	c   *Coordinator
	cyc Cycle
}

// Cycle returns the cycle record this world belongs to
func (w *World) Cycle() Cycle { return w.cyc }

// ScanRoots runs another root scan pass. Valid only while the world is
// stopped; the promotion callback is re-invoked per root location, so it
// must be idempotent.
func (w *World) ScanRoots(ctx *scan.Context) error {
	return w.c.scanner.ScanRoots(ctx)
}

// RescanContext builds a rescan Context over this cycle's generations,
// feeding the heap manager's own promotion callback
func (w *World) RescanContext() *scan.Context {
	return &scan.Context{
		Condemned: w.cyc.Condemned,
		MaxGen:    heap.MaxGeneration,
		Promote:   w.c.heapMgr.Promote,
		Pass:      scan.Rescan,
	}
}

// DrainDirtyCards drains the write barrier's dirty cards, in ascending
// order. Valid only while the world is stopped; in a background cycle
// this is the final-pause drain.
func (w *World) DrainDirtyCards(fn func(card int)) error {
	return w.c.barrier.DrainDirty(fn)
}

// RecordWrite exposes the mutator-side barrier for the concurrent marking
// phase's own bookkeeping writes
func (w *World) RecordWrite(slot, ref uintptr) {
	w.c.barrier.RecordWrite(slot, ref)
}

// EnumAllocContexts iterates every live allocation context
func (w *World) EnumAllocContexts(fn func(t *mutator.Thread, ac mutator.AllocContext)) {
	w.c.registry.EnumAllocContexts(fn)
}

// ScanSyncCacheWeak performs the weak-pointer scan of the host's sync
// block cache, if one is wired
func (w *World) ScanSyncCacheWeak(fn func(slot int, ref heap.ObjID)) error {
	return w.c.scanner.ScanSyncCacheWeak(w.c.syncCache, fn)
}

// FreeObjectDescriptor returns the sentinel descriptor used to pad unused
// heap space for traversability
func (w *World) FreeObjectDescriptor() *heap.Object {
	return heap.FreeObjectDescriptor()
}
