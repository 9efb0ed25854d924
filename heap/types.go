// ABOUTME: Core data types shared across the collection protocol
// ABOUTME: Defines ObjID, Object, generations, and address ranges

package heap

// ObjID is a unique identifier for a heap object. Zero is the nil reference.
type ObjID uint64

// Generation numbers a GC generation, youngest first.
type Generation int

const (
	// Gen0 holds the youngest objects
	Gen0 Generation = 0
	// Gen1 is the intermediate generation
	Gen1 Generation = 1
	// Gen2 holds the oldest objects
	Gen2 Generation = 2

	// MaxGeneration is the oldest generation the collector considers
	MaxGeneration = Gen2
)

// ObjectKind discriminates objects the protocol must treat specially
type ObjectKind int

const (
	// KindOrdinary is a plain object with direct reference slots
	KindOrdinary ObjectKind = iota

	// KindAsyncPinned is an object that transitively pins targets it does
	// not directly reference; the special-object walker understands its
	// pin graph
	KindAsyncPinned

	// KindFree is the padding sentinel used to keep unused heap space
	// traversable
	KindFree
)

// Object represents a single heap object as seen by the protocol
type Object struct {
	ID   ObjID      // Unique identifier
	Gen  Generation // Generation the object currently lives in
	Kind ObjectKind // Ordinary, async-pinned, or free padding
	Refs []ObjID    // IDs of objects referenced through ordinary slots

	// Pin graph of a KindAsyncPinned object. At most one of PinDirect or
	// PinArray is set: PinDirect names a single pinned target, PinArray
	// names a pinned array object whose Refs are each pinned targets.
	PinDirect ObjID
	PinArray  ObjID

	// Components is the byte count a KindFree object spans, letting a
	// heap walk skip to the next object
	Components uint64
}

// AddrRange is a half-open [Base, Limit) address range
type AddrRange struct {
	Base  uintptr
	Limit uintptr
}

// Size returns the byte length of the range
func (r AddrRange) Size() uintptr {
	if r.Limit < r.Base {
		return 0
	}
	return r.Limit - r.Base
}

// Contains reports whether addr falls inside the range
func (r AddrRange) Contains(addr uintptr) bool {
	return addr >= r.Base && addr < r.Limit
}
