package pmm

import (
	"log/slog"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
)

// ErrNoMemory is returned when no run of free frames satisfies a request.
var ErrNoMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

const nilIndex = -1

// frameInfo is the per-frame metadata. A frame that is neither reserved nor
// referenced is free; next and prev link the free list and are only
// meaningful while it is.
type frameInfo struct {
	reserved bool
	refs     uint32
	next     int32
	prev     int32
}

func (fi *frameInfo) free() bool {
	return !fi.reserved && fi.refs == 0
}

// FrameInfoSize is the number of bytes of boot memory one frameInfo occupies.
const FrameInfoSize = 16

// TableSize returns the bytes the frame table needs for totalMemory bytes of
// RAM. The caller reserves that much boot memory before calling New.
func TableSize(totalMemory uint32) uint32 {
	return totalMemory / PageSize * FrameInfoSize
}

// Stats is a snapshot of the frame table.
type Stats struct {
	Total     int
	Free      int
	Allocated int
	Reserved  int
}

// Allocator manages every frame of physical memory.
type Allocator struct {
	mem    *hw.Memory
	frames []frameInfo
	head   int32
	free   int
	log    *slog.Logger
}

// New builds the frame table for totalMemory bytes of RAM. Frames below
// reservedEnd hold the kernel image and everything the boot allocator handed
// out, including the frame table itself, and are never allocated.
func New(mem *hw.Memory, totalMemory, reservedEnd uint32, log *slog.Logger) *Allocator {
	if log == nil {
		log = slog.Default()
	}
	kernel.Assert(totalMemory <= mem.Size(), "totalMemory <= installed memory")

	count := totalMemory / PageSize
	reserved := (uint64(reservedEnd) + PageSize - 1) / PageSize
	if reserved > uint64(count) {
		reserved = uint64(count)
	}

	a := &Allocator{
		mem:    mem,
		frames: make([]frameInfo, count),
		head:   nilIndex,
		log:    log,
	}
	for i := range a.frames {
		a.frames[i].next, a.frames[i].prev = nilIndex, nilIndex
		if uint64(i) < reserved {
			a.frames[i].reserved = true
		}
	}
	// Push from the top so the list head is the lowest free frame
	for i := int32(count) - 1; i >= int32(reserved); i-- {
		a.push(i)
	}

	log.Info("frame allocator ready", "frames", count, "reserved", reserved, "free", a.free)
	return a
}

func (a *Allocator) push(i int32) {
	fi := &a.frames[i]
	fi.refs = 0
	fi.prev = nilIndex
	fi.next = a.head
	if a.head != nilIndex {
		a.frames[a.head].prev = i
	}
	a.head = i
	a.free++
}

func (a *Allocator) unlink(i int32) {
	fi := &a.frames[i]
	if fi.prev != nilIndex {
		a.frames[fi.prev].next = fi.next
	} else {
		a.head = fi.next
	}
	if fi.next != nilIndex {
		a.frames[fi.next].prev = fi.prev
	}
	fi.next, fi.prev = nilIndex, nilIndex
	a.free--
}

func (a *Allocator) take(i int32) {
	a.unlink(i)
	a.frames[i].refs = 1
	a.mem.Zero(Frame(i).Address(), PageSize)
}

// Allocate returns the first frame of a run of n contiguous free frames.
// Each frame in the run starts with one reference and zeroed contents.
// A single frame comes straight off the free list; longer runs are found by
// scanning the table for the lowest n consecutive free frames.
func (a *Allocator) Allocate(n int) (Frame, error) {
	kernel.Assert(n > 0, "n > 0")

	if n == 1 {
		if a.head == nilIndex {
			return InvalidFrame, ErrNoMemory
		}
		i := a.head
		a.take(i)
		a.log.Debug("frame allocated", "frame", i)
		return Frame(i), nil
	}

	if n > a.free {
		return InvalidFrame, ErrNoMemory
	}
	run := 0
	for i := range a.frames {
		if !a.frames[i].free() {
			run = 0
			continue
		}
		run++
		if run == n {
			first := int32(i - n + 1)
			for j := first; j <= int32(i); j++ {
				a.take(j)
			}
			a.log.Debug("frames allocated", "frame", first, "count", n)
			return Frame(first), nil
		}
	}
	return InvalidFrame, ErrNoMemory
}

func (a *Allocator) info(f Frame) *frameInfo {
	kernel.Assert(f.Valid() && int(f) < len(a.frames), "frame < frame count")
	return &a.frames[f]
}

// Free returns a run of n frames obtained from Allocate. Freeing a reserved
// frame, a frame that is already free, or one still shared through Retain
// stops the kernel.
func (a *Allocator) Free(f Frame, n int) {
	for i := 0; i < n; i++ {
		fi := a.info(f + Frame(i))
		kernel.Assert(!fi.reserved, "!frame.reserved")
		kernel.Assert(!fi.free(), "!frame.free")
		kernel.Assert(fi.refs == 1, "frame.refs == 1")
	}
	for i := 0; i < n; i++ {
		a.push(int32(f) + int32(i))
	}
	a.log.Debug("frames freed", "frame", uint32(f), "count", n)
}

// Retain adds a reference to an allocated frame.
func (a *Allocator) Retain(f Frame) {
	fi := a.info(f)
	kernel.Assert(fi.refs > 0, "frame.refs > 0")
	fi.refs++
}

// Release drops a reference to f and frees it when it was the last one.
// It reports whether the frame went back to the free list.
func (a *Allocator) Release(f Frame) bool {
	fi := a.info(f)
	kernel.Assert(fi.refs > 0, "frame.refs > 0")
	if fi.refs > 1 {
		fi.refs--
		return false
	}
	a.push(int32(f))
	a.log.Debug("frame released", "frame", uint32(f))
	return true
}

// Refs returns the reference count of f.
func (a *Allocator) Refs(f Frame) uint32 {
	return a.info(f).refs
}

// IsReserved reports whether f belongs to the boot-time reserved prefix.
func (a *Allocator) IsReserved(f Frame) bool {
	return a.info(f).reserved
}

// State returns the allocation state of f.
func (a *Allocator) State(f Frame) State {
	fi := a.info(f)
	switch {
	case fi.reserved:
		return Reserved
	case fi.free():
		return Free
	default:
		return Allocated
	}
}

// AddressOf returns the physical address of f.
func (a *Allocator) AddressOf(f Frame) uint32 {
	return f.Address()
}

// FrameOf returns the frame containing addr.
func (a *Allocator) FrameOf(addr uint32) Frame {
	return FrameFromAddress(addr)
}

// Count returns the number of frames in the table.
func (a *Allocator) Count() int {
	return len(a.frames)
}

// Stats counts frames by state.
func (a *Allocator) Stats() Stats {
	s := Stats{Total: len(a.frames), Free: a.free}
	for i := range a.frames {
		switch {
		case a.frames[i].reserved:
			s.Reserved++
		case !a.frames[i].free():
			s.Allocated++
		}
	}
	return s
}

// Memory returns the physical memory the frames belong to.
func (a *Allocator) Memory() *hw.Memory {
	return a.mem
}
