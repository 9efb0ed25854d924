// ABOUTME: Sentinel free-object descriptor used to pad unused heap space
// ABOUTME: Keeps heap segments traversable between live objects

package heap

// freeObject is the shared sentinel. It has no identity of its own; the
// heap manager stamps it over dead space so a linear walk can read
// Components and skip to the next object.
var freeObject = Object{Kind: KindFree}

// FreeObjectDescriptor returns the sentinel descriptor for free space.
// The returned object is a shared, immutable template; the heap manager
// copies it and sets Components when stamping a gap.
func FreeObjectDescriptor() *Object {
	return &freeObject
}
