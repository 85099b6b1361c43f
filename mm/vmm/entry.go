package vmm

import (
	"github.com/mrkct/experimental-os/bitfield"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/pmm"
)

// Permission bits of a page directory or page table entry.
const (
	Present      = 0x001
	Writable     = 0x002
	User         = 0x004
	WriteThrough = 0x008
	CacheDisable = 0x010
	Accessed     = 0x020
	Dirty        = 0x040
	PageSize4M   = 0x080
	Global       = 0x100

	// OwnedFrame lives in the first software-available bit. It marks frames
	// the address space allocated itself and must release with it.
	OwnedFrame = 0x200

	PermMask = 0xFFF
)

const (
	EntriesPerTable = 1024
	EntrySize       = 4
)

// PDX returns the page directory index of va.
func PDX(va uint32) uint32 { return va >> 22 }

// PTX returns the page table index of va.
func PTX(va uint32) uint32 { return (va >> 12) & 0x3FF }

// PGOFF returns the offset of va within its page.
func PGOFF(va uint32) uint32 { return va & 0xFFF }

// Entry is a page directory or page table entry.
type Entry uint32

// Present reports whether the entry holds a valid mapping.
func (e Entry) Present() bool {
	return e&Present != 0
}

// Address returns the physical address the entry points at.
func (e Entry) Address() uint32 {
	return uint32(e) &^ PermMask
}

// Frame returns the frame the entry points at.
func (e Entry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(e.Address())
}

// Perms returns the low 12 bits of the entry.
func (e Entry) Perms() uint32 {
	return uint32(e) & PermMask
}

// Flags decodes the permission bits.
func (e Entry) Flags() bitfield.EntryFlags {
	return bitfield.UnpackEntryFlags(uint32(e))
}

func makeEntry(pa, perms uint32) Entry {
	return Entry(pa&^PermMask | perms)
}

// Perms packs f into a permission word for Map. A value that does not fit
// the permission bits is fatal.
func Perms(f bitfield.EntryFlags) uint32 {
	perms, err := bitfield.PackEntryFlags(f)
	if err != nil {
		kernel.Panic(err)
	}
	return perms
}
