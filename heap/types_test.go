// ABOUTME: Tests for the shared heap data types
// ABOUTME: Validates address ranges and the free-object sentinel

package heap

import (
	"testing"
)

func TestAddrRange(t *testing.T) {
	r := AddrRange{Base: 0x1000, Limit: 0x2000}

	if r.Size() != 0x1000 {
		t.Errorf("Expected size 0x1000, got %#x", r.Size())
	}
	if !r.Contains(0x1000) {
		t.Error("Expected base to be contained")
	}
	if !r.Contains(0x1fff) {
		t.Error("Expected Limit-1 to be contained")
	}
	if r.Contains(0x2000) {
		t.Error("Expected limit to be excluded")
	}
	if r.Contains(0xfff) {
		t.Error("Expected address below base to be excluded")
	}
}

func TestAddrRangeInverted(t *testing.T) {
	r := AddrRange{Base: 0x2000, Limit: 0x1000}
	if r.Size() != 0 {
		t.Errorf("Expected inverted range size 0, got %#x", r.Size())
	}
}

func TestFreeObjectDescriptor(t *testing.T) {
	free := FreeObjectDescriptor()
	if free == nil {
		t.Fatal("Expected a free object descriptor")
	}
	if free.Kind != KindFree {
		t.Errorf("Expected KindFree, got %v", free.Kind)
	}
	if free.ID != 0 {
		t.Errorf("Free object template should have no identity, got %d", free.ID)
	}

	// The descriptor is a shared template; a heap walk copies it and sets
	// the component count per gap
	gap := *FreeObjectDescriptor()
	gap.Components = 128
	if FreeObjectDescriptor().Components != 0 {
		t.Error("Stamping a copy must not mutate the shared template")
	}
}

func TestGenerationConstants(t *testing.T) {
	if Gen0 != 0 || Gen1 != 1 || Gen2 != 2 {
		t.Errorf("Unexpected generation numbering: %d %d %d", Gen0, Gen1, Gen2)
	}
	if MaxGeneration != Gen2 {
		t.Errorf("Expected MaxGeneration to be Gen2, got %d", MaxGeneration)
	}
}
