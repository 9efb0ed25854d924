// ABOUTME: Special-object walker for async-pinned objects
// ABOUTME: Traverses indirect pin graphs for promotion or edge reporting

package scan

import "github.com/jsportaro/coreclr/heap"

// EdgeFunc receives one pin-graph edge plus the caller's context value,
// passed through verbatim
type EdgeFunc func(edge PinnedGraphEdge, context any)

// Walker traverses the indirect pin graphs of async-pinned objects. An
// async-pinned object keeps targets alive and immovable that it does not
// reference through ordinary slots: either one directly pinned object, or
// a pinned array whose elements are each pinned. Both walks are pure
// reads; no headers or counts are mutated.
type Walker struct {
	Objects ObjectSource
}

// NewWalker creates a walker resolving pin-graph nodes through src
func NewWalker(src ObjectSource) *Walker {
	return &Walker{Objects: src}
}

// WalkForPromotion feeds every transitively pinned target of obj into the
// promotion callback, as RootPinGraph locations owned by obj. It is a
// no-op unless obj is of the async-pinned kind.
func (w *Walker) WalkForPromotion(obj *heap.Object, ctx *Context, fn PromoteFunc) {
	if obj == nil || obj.Kind != heap.KindAsyncPinned {
		return
	}
	slot := 0
	w.walk(obj, func(from, to heap.ObjID) {
		fn(RootLoc{Kind: RootPinGraph, Owner: uint64(obj.ID), Slot: slot}, to)
		slot++
	})
}

// WalkGraph reports every (from, to) edge of obj's pin graph to fn,
// passing context through verbatim. For a directly pinned target, from is
// obj itself; for a pinned array, from is the array and fn is invoked
// once per element. No-op unless obj is of the async-pinned kind.
func (w *Walker) WalkGraph(obj *heap.Object, context any, fn EdgeFunc) {
	if obj == nil || obj.Kind != heap.KindAsyncPinned {
		return
	}
	w.walk(obj, func(from, to heap.ObjID) {
		fn(PinnedGraphEdge{From: from, To: to}, context)
	})
}

func (w *Walker) walk(obj *heap.Object, emit func(from, to heap.ObjID)) {
	if obj.PinDirect != 0 {
		emit(obj.ID, obj.PinDirect)
	}
	if obj.PinArray == 0 {
		return
	}
	arr := w.Objects.Lookup(obj.PinArray)
	if arr == nil {
		return
	}
	for _, elem := range arr.Refs {
		if elem != 0 {
			emit(arr.ID, elem)
		}
	}
}
