// ABOUTME: Root scanner enumerating stacks, statics, and handle tables
// ABOUTME: Feeds each distinct root location to the promotion callback once per pass

package scan

import (
	"errors"

	"github.com/jsportaro/coreclr/heap"
	"github.com/jsportaro/coreclr/mutator"
)

// ErrMutatorsRunning indicates a root scan was attempted without full
// suspension. This is a protocol violation; callers route it to the fatal
// path rather than retrying.
var ErrMutatorsRunning = errors.New("scan: root scan requires all mutators suspended")

// Scanner walks every root source for a scan pass. The zero value is not
// usable; Registry and Stacks are required, the remaining sources are
// optional and skipped when nil.
type Scanner struct {
	Registry *mutator.Registry
	Stacks   StackWalker
	Statics  StaticRoots
	Handles  HandleTable
	Objects  ObjectSource
	Specials *Walker

	// RefCountedAlive decides whether a refcounted handle's referent is
	// promoted. Nil treats every refcounted handle as dead.
	RefCountedAlive func(ref heap.ObjID) bool
}

// ScanRoots enumerates all roots reachable from every suspended thread's
// stack and registers, the static slots, and the handle tables, invoking
// ctx.Promote exactly once per distinct root location. Two passes over
// the same Context promote the same objects but re-invoke the callback
// for every location again; idempotence is the callback's contract.
// Scanning while any mutator runs returns ErrMutatorsRunning.
func (s *Scanner) ScanRoots(ctx *Context) error {
	if !s.Registry.AllSuspended() {
		return ErrMutatorsRunning
	}
	s.scanStacks(ctx)
	s.scanStatics(ctx)
	s.scanHandles(ctx)
	return nil
}

func (s *Scanner) scanStacks(ctx *Context) {
	s.Registry.ForEachThread(func(t *mutator.Thread) {
		s.Stacks.WalkStack(t, func(slot int, ref heap.ObjID) {
			if ref == 0 {
				return
			}
			s.promote(ctx, RootLoc{Kind: RootStack, Owner: t.ID(), Slot: slot}, ref)
		})
	})
}

func (s *Scanner) scanStatics(ctx *Context) {
	if s.Statics == nil {
		return
	}
	s.Statics.VisitStatics(func(slot int, ref heap.ObjID) {
		s.promote(ctx, RootLoc{Kind: RootStatic, Slot: slot}, ref)
	})
}

func (s *Scanner) scanHandles(ctx *Context) {
	if s.Handles == nil {
		return
	}
	s.Handles.VisitHandles(func(slot int, h Handle) {
		if h.Ref == 0 {
			return
		}
		switch h.Kind {
		case HandleWeak:
			return
		case HandleRefCounted:
			if s.RefCountedAlive == nil || !s.RefCountedAlive(h.Ref) {
				return
			}
		}
		s.promote(ctx, RootLoc{Kind: RootHandle, Slot: slot}, h.Ref)
	})
}

// promote reports one root location, then consults the special-object
// walker so an async-pinned root feeds its indirect pin graph into the
// same promotion pipeline.
func (s *Scanner) promote(ctx *Context, loc RootLoc, ref heap.ObjID) {
	ctx.Promote(loc, ref)
	if s.Specials == nil || s.Objects == nil {
		return
	}
	if obj := s.Objects.Lookup(ref); obj != nil && obj.Kind == heap.KindAsyncPinned {
		s.Specials.WalkForPromotion(obj, ctx, ctx.Promote)
	}
}

// ScanSyncCacheWeak performs the weak-pointer scan of the host's sync
// block cache. No promotion happens here; the heap manager inspects each
// reported slot and clears or keeps it by its own rules.
func (s *Scanner) ScanSyncCacheWeak(cache SyncCache, scanFn func(slot int, ref heap.ObjID)) error {
	if !s.Registry.AllSuspended() {
		return ErrMutatorsRunning
	}
	if cache != nil {
		cache.WeakPtrScan(scanFn)
	}
	return nil
}
