// Package pmm is the physical frame allocator. It tracks every 4 KiB frame of
// installed RAM as reserved, free or allocated, keeps the free frames on a
// doubly linked list for O(1) single-frame allocation and counts references
// so page tables can be shared between address spaces.
package pmm

import (
	"math"
)

const (
	// PageShift is log2(PageSize)
	PageShift = 12

	// PageSize is the size of a frame and of a virtual page
	PageSize = 1 << PageShift
)

// Frame is the index of a physical page.
type Frame uint32

// InvalidFrame is returned when no frame could be allocated.
const InvalidFrame = Frame(math.MaxUint32)

// Valid reports whether f is a real frame index.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the frame's first byte.
func (f Frame) Address() uint32 {
	return uint32(f) << PageShift
}

// FrameFromAddress returns the frame containing physical address addr.
func FrameFromAddress(addr uint32) Frame {
	return Frame(addr >> PageShift)
}

// State is the allocation state of a frame.
type State uint8

const (
	Reserved State = iota
	Free
	Allocated
)

func (s State) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	}
	return "invalid"
}
