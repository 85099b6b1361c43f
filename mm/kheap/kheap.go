// Package kheap is the kernel's object allocator. Every allocation takes one
// or more whole frames from the frame allocator; the first bytes of the run
// hold a header that Free checks before giving the frames back.
package kheap

import (
	"log/slog"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/pmm"
)

// ErrNoMemory is returned when the frame allocator has no run large enough.
var ErrNoMemory = &kernel.Error{Module: "kheap", Message: "out of memory"}

const (
	// Magic marks the start of a live allocation
	Magic = 0x1a2b3c4d

	// HeaderSize is the size of the header preceding every allocation
	HeaderSize = 12
)

// header is stored in memory as three little-endian words.
type header struct {
	magic uint32
	frame uint32
	pages uint32
}

// Heap allocates kernel objects in physical memory. Kernel memory is
// identity mapped, so the addresses it returns are valid in every address
// space.
type Heap struct {
	pm  *pmm.Allocator
	mem *hw.Memory
	log *slog.Logger
}

// New returns a heap drawing frames from pm.
func New(pm *pmm.Allocator, log *slog.Logger) *Heap {
	if log == nil {
		log = slog.Default()
	}
	return &Heap{pm: pm, mem: pm.Memory(), log: log}
}

// Pages returns the number of frames an allocation of size bytes takes.
func Pages(size uint32) int {
	return int((uint64(size) + HeaderSize + pmm.PageSize - 1) / pmm.PageSize)
}

func (h *Heap) readHeader(addr uint32) header {
	kernel.Assert(addr >= HeaderSize, "addr >= HeaderSize")
	base := addr - HeaderSize
	return header{
		magic: h.mem.Read32(base),
		frame: h.mem.Read32(base + 4),
		pages: h.mem.Read32(base + 8),
	}
}

// Alloc returns the address of size usable bytes.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	pages := Pages(size)
	f, err := h.pm.Allocate(pages)
	if err != nil {
		return 0, ErrNoMemory
	}
	base := f.Address()
	h.mem.Write32(base, Magic)
	h.mem.Write32(base+4, uint32(f))
	h.mem.Write32(base+8, uint32(pages))
	h.log.Debug("kmalloc", "addr", base+HeaderSize, "size", size, "pages", pages)
	return base + HeaderSize, nil
}

// Free releases an allocation. Freeing an address Alloc did not return, or
// freeing it twice, stops the kernel.
func (h *Heap) Free(addr uint32) {
	hdr := h.readHeader(addr)
	kernel.Assert(hdr.magic == Magic, "header.magic == KHEAP_MAGIC")
	kernel.Assert(pmm.Frame(hdr.frame).Address() == addr-HeaderSize, "header.frame matches address")

	h.mem.Write32(addr-HeaderSize, 0)
	h.pm.Free(pmm.Frame(hdr.frame), int(hdr.pages))
	h.log.Debug("kfree", "addr", addr, "pages", hdr.pages)
}

// Size returns the usable bytes of the allocation at addr.
func (h *Heap) Size(addr uint32) uint32 {
	hdr := h.readHeader(addr)
	kernel.Assert(hdr.magic == Magic, "header.magic == KHEAP_MAGIC")
	return hdr.pages*pmm.PageSize - HeaderSize
}

// AllocString copies s into a fresh NUL-terminated allocation.
func (h *Heap) AllocString(s string) (uint32, error) {
	addr, err := h.Alloc(uint32(len(s)) + 1)
	if err != nil {
		return 0, err
	}
	h.mem.Copy(addr, []byte(s))
	h.mem.Bytes(addr+uint32(len(s)), 1)[0] = 0
	return addr, nil
}

// ReadString returns the NUL-terminated string at addr.
func (h *Heap) ReadString(addr uint32) string {
	buf := h.mem.Bytes(addr, h.Size(addr))
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
