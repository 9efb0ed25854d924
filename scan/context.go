// ABOUTME: ScanContext, root locations, and the promotion callback contract
// ABOUTME: One Context describes one scan pass and is never retained across cycles

package scan

import "github.com/jsportaro/coreclr/heap"

// PassKind identifies which scan pass a Context describes
type PassKind int

const (
	// InitialMark is the first root scan of a cycle
	InitialMark PassKind = iota
	// Rescan is a repeat pass over the same roots; the promotion callback
	// is re-invoked per root location and must be idempotent
	Rescan
	// BackgroundMark is the root scan feeding a concurrent marker
	BackgroundMark
)

// Context describes one scan pass: the condemned generation, the oldest
// generation considered, the promotion callback, and pass metadata. A
// Context is created fresh per pass and not retained across cycles.
type Context struct {
	Condemned heap.Generation
	MaxGen    heap.Generation
	Promote   PromoteFunc
	Pass      PassKind
}

// RootKind classifies where a root location lives
type RootKind int

const (
	// RootStack is a stack or register slot of a suspended thread
	RootStack RootKind = iota
	// RootStatic is a static or global reference slot
	RootStatic
	// RootHandle is a slot in an externally maintained handle table
	RootHandle
	// RootPinGraph is a target reached through an async-pinned object's
	// indirect pin graph
	RootPinGraph
)

// RootLoc identifies one distinct root location. The scanner invokes the
// promotion callback exactly once per RootLoc per pass; the same object
// reached through different locations is reported once per location.
type RootLoc struct {
	Kind  RootKind
	Owner uint64 // thread ID for stack roots, table/object identity otherwise
	Slot  int
}

// PromoteFunc is the promotion callback invoked for each discovered root.
// It may be called multiple times for the same object (via different root
// locations, or again on a rescan) and must be idempotent with respect to
// the survivor set.
type PromoteFunc func(loc RootLoc, ref heap.ObjID)

// PinnedGraphEdge is a (from, to) reference pair reported when walking an
// async-pinned object's graph. Consumed transiently; never persisted.
type PinnedGraphEdge struct {
	From heap.ObjID
	To   heap.ObjID
}
