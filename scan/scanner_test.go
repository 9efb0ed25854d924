// ABOUTME: Tests for the root scanner across stacks, statics, and handles
// ABOUTME: Covers the no-lost-roots and idempotent-promotion properties

package scan

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jsportaro/coreclr/heap"
	"github.com/jsportaro/coreclr/mutator"
)

// fakeStacks maps thread IDs to their live stack reference slots
type fakeStacks struct {
	mu    sync.Mutex
	roots map[uint64][]heap.ObjID
}

func (f *fakeStacks) set(id uint64, refs ...heap.ObjID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roots == nil {
		f.roots = make(map[uint64][]heap.ObjID)
	}
	f.roots[id] = refs
}

func (f *fakeStacks) WalkStack(t *mutator.Thread, visit func(slot int, ref heap.ObjID)) {
	f.mu.Lock()
	refs := f.roots[t.ID()]
	f.mu.Unlock()
	for i, ref := range refs {
		visit(i, ref)
	}
}

// fakeHandles is a fixed handle table
type fakeHandles struct {
	handles []Handle
}

func (f *fakeHandles) VisitHandles(visit func(slot int, h Handle)) {
	for i, h := range f.handles {
		visit(i, h)
	}
}

// fakeObjects is an in-memory ObjectSource
type fakeObjects struct {
	objs map[heap.ObjID]*heap.Object
}

func newFakeObjects(objs ...*heap.Object) *fakeObjects {
	f := &fakeObjects{objs: make(map[heap.ObjID]*heap.Object)}
	for _, o := range objs {
		f.objs[o.ID] = o
	}
	return f
}

func (f *fakeObjects) Lookup(id heap.ObjID) *heap.Object {
	return f.objs[id]
}

// promotions records every callback invocation and the distinct survivors
type promotions struct {
	mu        sync.Mutex
	calls     []RootLoc
	survivors map[heap.ObjID]bool
}

func newPromotions() *promotions {
	return &promotions{survivors: make(map[heap.ObjID]bool)}
}

func (p *promotions) promote(loc RootLoc, ref heap.ObjID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, loc)
	p.survivors[ref] = true
}

// pausedWorld registers n mutator goroutines, suspends them, and returns
// their handles plus a teardown that resumes and joins
func pausedWorld(t *testing.T, r *mutator.Registry, n int) ([]*mutator.Thread, func()) {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	handles := make(chan *mutator.Thread, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := r.Register("scan-mutator")
			defer r.Unregister(th)
			handles <- th
			for {
				select {
				case <-stop:
					return
				default:
					th.Safepoint()
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	threads := make([]*mutator.Thread, n)
	for i := range threads {
		threads[i] = <-handles
	}
	r.RequestSuspension(mutator.SuspendForGC)
	return threads, func() {
		r.Resume(true)
		close(stop)
		wg.Wait()
	}
}

func TestNoLostRoots(t *testing.T) {
	const k = 6
	r := mutator.NewRegistry(mutator.Config{})
	stacks := &fakeStacks{}
	threads, teardown := pausedWorld(t, r, k)
	defer teardown()

	// Each of K threads holds one distinct root
	want := make(map[heap.ObjID]bool)
	for i, th := range threads {
		ref := heap.ObjID(100 + i)
		stacks.set(th.ID(), ref)
		want[ref] = true
	}

	s := &Scanner{Registry: r, Stacks: stacks}
	p := newPromotions()
	ctx := &Context{Condemned: heap.Gen0, MaxGen: heap.MaxGeneration, Promote: p.promote, Pass: InitialMark}
	if err := s.ScanRoots(ctx); err != nil {
		t.Fatalf("ScanRoots failed: %v", err)
	}

	if len(p.survivors) != k {
		t.Fatalf("Expected %d survivors, got %d", k, len(p.survivors))
	}
	for ref := range want {
		if !p.survivors[ref] {
			t.Errorf("Root %d was lost", ref)
		}
	}
}

func TestScanRequiresSuspension(t *testing.T) {
	r := mutator.NewRegistry(mutator.Config{})
	s := &Scanner{Registry: r, Stacks: &fakeStacks{}}
	ctx := &Context{Promote: func(RootLoc, heap.ObjID) {}, Pass: InitialMark}

	if err := s.ScanRoots(ctx); err != ErrMutatorsRunning {
		t.Errorf("Expected ErrMutatorsRunning without suspension, got %v", err)
	}
	if err := s.ScanSyncCacheWeak(nil, nil); err != ErrMutatorsRunning {
		t.Errorf("Expected ErrMutatorsRunning for weak scan, got %v", err)
	}
}

func TestStaticAndHandleRoots(t *testing.T) {
	r := mutator.NewRegistry(mutator.Config{})
	_, teardown := pausedWorld(t, r, 1)
	defer teardown()

	statics := NewStaticTable()
	statics.Add(201)
	empty := statics.Add(0) // nil slot: never reported
	statics.Add(202)
	statics.Set(empty, 0)

	handles := &fakeHandles{handles: []Handle{
		{Kind: HandleStrong, Ref: 301},
		{Kind: HandleWeak, Ref: 302},      // weak: not promoted
		{Kind: HandlePinned, Ref: 303},
		{Kind: HandleRefCounted, Ref: 304}, // alive per predicate
		{Kind: HandleRefCounted, Ref: 305}, // dead per predicate
		{Kind: HandleStrong, Ref: 0},       // nil slot
	}}

	s := &Scanner{
		Registry: r,
		Stacks:   &fakeStacks{},
		Statics:  statics,
		Handles:  handles,
		RefCountedAlive: func(ref heap.ObjID) bool {
			return ref == 304
		},
	}
	p := newPromotions()
	ctx := &Context{Condemned: heap.Gen2, MaxGen: heap.MaxGeneration, Promote: p.promote, Pass: InitialMark}
	if err := s.ScanRoots(ctx); err != nil {
		t.Fatalf("ScanRoots failed: %v", err)
	}

	for _, want := range []heap.ObjID{201, 202, 301, 303, 304} {
		if !p.survivors[want] {
			t.Errorf("Expected %d promoted", want)
		}
	}
	for _, dead := range []heap.ObjID{302, 305} {
		if p.survivors[dead] {
			t.Errorf("Did not expect %d promoted", dead)
		}
	}
}

func TestAsyncPinnedRootFeedsPinGraph(t *testing.T) {
	r := mutator.NewRegistry(mutator.Config{})
	threads, teardown := pausedWorld(t, r, 1)
	defer teardown()

	// Thread holds an async-pinned object whose pin graph reaches 401
	// directly and 501/502 through a pinned array
	pinned := &heap.Object{ID: 400, Kind: heap.KindAsyncPinned, PinDirect: 401, PinArray: 500}
	arr := &heap.Object{ID: 500, Kind: heap.KindOrdinary, Refs: []heap.ObjID{501, 502}}
	objs := newFakeObjects(pinned, arr)

	stacks := &fakeStacks{}
	stacks.set(threads[0].ID(), 400)

	s := &Scanner{
		Registry: r,
		Stacks:   stacks,
		Objects:  objs,
		Specials: NewWalker(objs),
	}
	p := newPromotions()
	ctx := &Context{Condemned: heap.Gen0, MaxGen: heap.MaxGeneration, Promote: p.promote, Pass: InitialMark}
	if err := s.ScanRoots(ctx); err != nil {
		t.Fatalf("ScanRoots failed: %v", err)
	}

	for _, want := range []heap.ObjID{400, 401, 501, 502} {
		if !p.survivors[want] {
			t.Errorf("Expected %d in the promotion set", want)
		}
	}
}

// Property: re-scanning the same context re-invokes the callback per root
// location but promotes the same survivor set
func TestPropertyRescanIdempotent(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		r := mutator.NewRegistry(mutator.Config{})
		stacks := &fakeStacks{}
		n := 1 + rng.Intn(4)
		threads, teardown := pausedWorld(t, r, n)

		for _, th := range threads {
			refs := make([]heap.ObjID, rng.Intn(5))
			for i := range refs {
				refs[i] = heap.ObjID(1 + rng.Intn(10))
			}
			stacks.set(th.ID(), refs...)
		}
		statics := NewStaticTable()
		for i := 0; i < rng.Intn(4); i++ {
			statics.Add(heap.ObjID(1 + rng.Intn(10)))
		}

		s := &Scanner{Registry: r, Stacks: stacks, Statics: statics}
		p := newPromotions()
		ctx := &Context{Condemned: heap.Gen1, MaxGen: heap.MaxGeneration, Promote: p.promote, Pass: InitialMark}
		if err := s.ScanRoots(ctx); err != nil {
			t.Fatalf("Trial %d: initial scan failed: %v", trial, err)
		}
		firstCalls := len(p.calls)
		firstSurvivors := len(p.survivors)

		ctx.Pass = Rescan
		if err := s.ScanRoots(ctx); err != nil {
			t.Fatalf("Trial %d: rescan failed: %v", trial, err)
		}

		if len(p.calls) != 2*firstCalls {
			t.Errorf("Trial %d: expected callback re-invoked per location (%d), got %d total",
				trial, 2*firstCalls, len(p.calls))
		}
		if len(p.survivors) != firstSurvivors {
			t.Errorf("Trial %d: rescan changed survivor set %d -> %d",
				trial, firstSurvivors, len(p.survivors))
		}
		teardown()
	}
}
