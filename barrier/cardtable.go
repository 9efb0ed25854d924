// ABOUTME: Card-table descriptor and the write-barrier coordinator
// ABOUTME: Handles descriptor relocation under suspension and dirty-card recording

package barrier

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jsportaro/coreclr/heap"
)

var (
	// ErrMutatorsRunning indicates a relocation or drain was attempted
	// while mutator threads could still be issuing barrier checks
	ErrMutatorsRunning = errors.New("barrier: operation requires all mutators suspended")

	// ErrNoDescriptor indicates a barrier operation before any descriptor
	// was installed
	ErrNoDescriptor = errors.New("barrier: no card table descriptor installed")
)

// Descriptor describes one write-barrier-tracked memory layout: the heap
// range the barrier instruments, the card table backing it, the card
// granularity, and the ephemeral generation bounds inlined barrier checks
// compare against. Descriptors are immutable once installed; relocation
// installs a fresh one.
type Descriptor struct {
	Heap  heap.AddrRange // instrumented heap range
	Table heap.AddrRange // card table storage
	Shift uint           // log2 of bytes covered per card

	// Ephemeral generation bounds; a write of a reference into this range
	// from outside it dirties the writer's card
	EphemeralLow  uintptr
	EphemeralHigh uintptr
}

// CardIndex maps a heap address to its card, or false if the address is
// outside the instrumented range
func (d *Descriptor) CardIndex(addr uintptr) (int, bool) {
	if !d.Heap.Contains(addr) {
		return 0, false
	}
	return int((addr - d.Heap.Base) >> d.Shift), true
}

// NumCards returns the card count covering the instrumented range
func (d *Descriptor) NumCards() int {
	return int((d.Heap.Size() + (1 << d.Shift) - 1) >> d.Shift)
}

// Coordinator owns the card-table structure recording cross-generation
// references. Mutators record through it on every reference write; the
// heap manager relocates it when segments move and drains it during
// collection.
type Coordinator struct {
	// allSuspended is the registry's view of the world; relocation and
	// draining serialize against in-flight barrier checks by requiring it
	allSuspended func() bool

	desc atomic.Pointer[Descriptor]

	mu    sync.Mutex
	dirty map[int]struct{}
}

// NewCoordinator creates a coordinator gated on the given suspension view.
// initial may be nil when the heap manager installs the first descriptor
// during startup suspension.
func NewCoordinator(allSuspended func() bool, initial *Descriptor) *Coordinator {
	c := &Coordinator{
		allSuspended: allSuspended,
		dirty:        make(map[int]struct{}),
	}
	if initial != nil {
		c.desc.Store(initial)
	}
	return c
}

// Current returns the descriptor every barrier check reads. Lock-free;
// this is the mutator fast path.
func (c *Coordinator) Current() *Descriptor {
	return c.desc.Load()
}

// Relocate installs the descriptor for a moved or resized heap layout.
// It may only be called while all mutators are suspended, which is what
// serializes it against in-flight barrier checks; after return every
// subsequent check by any thread observes the new layout. Dirty cards
// recorded against the old layout are discarded, since the heap manager
// rescans moved ranges itself.
func (c *Coordinator) Relocate(d *Descriptor) error {
	if d == nil {
		return ErrNoDescriptor
	}
	if !c.allSuspended() {
		return ErrMutatorsRunning
	}
	c.mu.Lock()
	c.dirty = make(map[int]struct{})
	c.desc.Store(d)
	c.mu.Unlock()
	return nil
}

// RecordWrite is the mutator-side barrier: called after writing ref into
// slot, it dirties slot's card when the write may create a reference into
// the ephemeral range from outside it. Writes outside the instrumented
// range are ignored.
func (c *Coordinator) RecordWrite(slot, ref uintptr) {
	d := c.desc.Load()
	if d == nil {
		return
	}
	if ref < d.EphemeralLow || ref >= d.EphemeralHigh {
		return
	}
	if slot >= d.EphemeralLow && slot < d.EphemeralHigh {
		return
	}
	card, ok := d.CardIndex(slot)
	if !ok {
		return
	}
	c.mu.Lock()
	c.dirty[card] = struct{}{}
	c.mu.Unlock()
}

// DrainDirty hands every dirty card to fn in ascending order and clears
// the set. Only valid while all mutators are suspended; during a
// concurrent cycle this is the final-pause drain.
func (c *Coordinator) DrainDirty(fn func(card int)) error {
	if !c.allSuspended() {
		return ErrMutatorsRunning
	}
	c.mu.Lock()
	cards := make([]int, 0, len(c.dirty))
	for card := range c.dirty {
		cards = append(cards, card)
	}
	c.dirty = make(map[int]struct{})
	c.mu.Unlock()
	sort.Ints(cards)
	for _, card := range cards {
		fn(card)
	}
	return nil
}

// DirtyCount returns the number of cards currently dirty
func (c *Coordinator) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}
