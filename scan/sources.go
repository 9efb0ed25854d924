// ABOUTME: Root source interfaces (stack walker, statics, handle tables, sync cache)
// ABOUTME: Includes an in-memory static root table for hosts and tests

package scan

import (
	"sync"

	"github.com/jsportaro/coreclr/heap"
	"github.com/jsportaro/coreclr/mutator"
)

// StackWalker enumerates the live reference slots of one suspended
// thread's stack and registers. Exact frame layout is the host's concern;
// the scanner only consumes the reported slots.
type StackWalker interface {
	WalkStack(t *mutator.Thread, visit func(slot int, ref heap.ObjID))
}

// StaticRoots enumerates static and global reference slots
type StaticRoots interface {
	VisitStatics(visit func(slot int, ref heap.ObjID))
}

// HandleKind classifies an external handle
type HandleKind int

const (
	// HandleStrong keeps its referent alive unconditionally
	HandleStrong HandleKind = iota
	// HandleWeak does not keep its referent alive and is not promoted by
	// the root scan
	HandleWeak
	// HandlePinned keeps its referent alive and immovable
	HandlePinned
	// HandleRefCounted is promoted only if the host's liveness predicate says so
	HandleRefCounted
)

// Handle is one slot of an externally maintained handle table
type Handle struct {
	Kind HandleKind
	Ref  heap.ObjID
}

// HandleTable enumerates an externally maintained handle set
type HandleTable interface {
	VisitHandles(visit func(slot int, h Handle))
}

// ObjectSource resolves an ObjID to its object, or nil if unknown. The
// scanner uses it to recognize async-pinned objects among roots.
type ObjectSource interface {
	Lookup(id heap.ObjID) *heap.Object
}

// SyncCache is the host's synchronization-block cache. The collector weak
// scans it during a cycle and notifies it of demotions and granted
// promotions.
type SyncCache interface {
	WeakPtrScan(scan func(slot int, ref heap.ObjID))
	Demote(maxGen heap.Generation)
	PromotionsGranted(maxGen heap.Generation)
}

// StaticTable is an in-memory StaticRoots implementation
type StaticTable struct {
	mu    sync.RWMutex
	slots []heap.ObjID
}

// NewStaticTable creates an empty static root table
func NewStaticTable() *StaticTable {
	return &StaticTable{}
}

// Add appends a static slot holding ref and returns its slot index
func (st *StaticTable) Add(ref heap.ObjID) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.slots = append(st.slots, ref)
	return len(st.slots) - 1
}

// Set overwrites an existing static slot
func (st *StaticTable) Set(slot int, ref heap.ObjID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.slots[slot] = ref
}

// VisitStatics reports every non-nil static slot
func (st *StaticTable) VisitStatics(visit func(slot int, ref heap.ObjID)) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for i, ref := range st.slots {
		if ref != 0 {
			visit(i, ref)
		}
	}
}
