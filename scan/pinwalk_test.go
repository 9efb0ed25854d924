// ABOUTME: Tests for the special-object walker
// ABOUTME: Validates no-op on ordinary objects and pin-graph edge reporting

package scan

import (
	"testing"

	"github.com/jsportaro/coreclr/heap"
)

func TestWalkForPromotionNoOpOnOrdinary(t *testing.T) {
	objs := newFakeObjects(
		&heap.Object{ID: 1, Kind: heap.KindOrdinary, Refs: []heap.ObjID{2, 3}},
	)
	w := NewWalker(objs)

	p := newPromotions()
	ctx := &Context{Promote: p.promote, Pass: InitialMark}
	w.WalkForPromotion(objs.Lookup(1), ctx, p.promote)

	if len(p.calls) != 0 {
		t.Errorf("Expected zero promotions for a plain object, got %d", len(p.calls))
	}
	if len(p.survivors) != 0 {
		t.Errorf("Expected promotion set unchanged, got %d entries", len(p.survivors))
	}
}

func TestWalkGraphNoOpOnNilAndFree(t *testing.T) {
	w := NewWalker(newFakeObjects())
	edges := 0
	fn := func(PinnedGraphEdge, any) { edges++ }

	w.WalkGraph(nil, nil, fn)
	w.WalkGraph(heap.FreeObjectDescriptor(), nil, fn)

	if edges != 0 {
		t.Errorf("Expected zero edges, got %d", edges)
	}
}

func TestWalkGraphDirectPin(t *testing.T) {
	pinned := &heap.Object{ID: 10, Kind: heap.KindAsyncPinned, PinDirect: 11}
	w := NewWalker(newFakeObjects(pinned))

	var got []PinnedGraphEdge
	w.WalkGraph(pinned, nil, func(e PinnedGraphEdge, _ any) {
		got = append(got, e)
	})

	if len(got) != 1 {
		t.Fatalf("Expected 1 edge, got %d", len(got))
	}
	if got[0].From != 10 || got[0].To != 11 {
		t.Errorf("Expected edge 10->11, got %d->%d", got[0].From, got[0].To)
	}
}

func TestWalkGraphArrayPin(t *testing.T) {
	// A pinned array: the array is the "from" of every element edge
	pinned := &heap.Object{ID: 20, Kind: heap.KindAsyncPinned, PinArray: 21}
	arr := &heap.Object{ID: 21, Kind: heap.KindOrdinary, Refs: []heap.ObjID{22, 0, 23}}
	w := NewWalker(newFakeObjects(pinned, arr))

	var got []PinnedGraphEdge
	w.WalkGraph(pinned, nil, func(e PinnedGraphEdge, _ any) {
		got = append(got, e)
	})

	if len(got) != 2 {
		t.Fatalf("Expected 2 edges (nil element skipped), got %d", len(got))
	}
	for _, e := range got {
		if e.From != 21 {
			t.Errorf("Expected array 21 as edge source, got %d", e.From)
		}
	}
	if got[0].To != 22 || got[1].To != 23 {
		t.Errorf("Expected targets 22 and 23, got %d and %d", got[0].To, got[1].To)
	}
}

func TestWalkGraphPassesContextVerbatim(t *testing.T) {
	pinned := &heap.Object{ID: 30, Kind: heap.KindAsyncPinned, PinDirect: 31}
	w := NewWalker(newFakeObjects(pinned))

	marker := &struct{ tag string }{tag: "ctx"}
	w.WalkGraph(pinned, marker, func(_ PinnedGraphEdge, context any) {
		if context != marker {
			t.Error("Context was not passed through verbatim")
		}
	})
}

func TestWalkForPromotionReadsOnly(t *testing.T) {
	pinned := &heap.Object{ID: 40, Kind: heap.KindAsyncPinned, PinDirect: 41, PinArray: 42}
	arr := &heap.Object{ID: 42, Kind: heap.KindOrdinary, Refs: []heap.ObjID{43}}
	objs := newFakeObjects(pinned, arr)
	w := NewWalker(objs)

	before := *pinned
	arrBefore := *arr
	p := newPromotions()
	ctx := &Context{Promote: p.promote, Pass: InitialMark}
	w.WalkForPromotion(pinned, ctx, p.promote)

	if pinned.ID != before.ID || pinned.Kind != before.Kind ||
		pinned.PinDirect != before.PinDirect || pinned.PinArray != before.PinArray {
		t.Error("Walk mutated the async-pinned object")
	}
	if arrBefore.ID != arr.ID || arrBefore.Kind != arr.Kind {
		t.Error("Walk mutated the pinned array")
	}
	for _, want := range []heap.ObjID{41, 43} {
		if !p.survivors[want] {
			t.Errorf("Expected %d promoted through the pin graph", want)
		}
	}
}
