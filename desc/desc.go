// Package desc encodes the i386 descriptor tables: the 5-entry Global
// Descriptor Table and the 256-gate Interrupt Descriptor Table.
//
// Both tables live in physical memory in the exact layout the CPU expects and
// are installed in GDTR/IDTR.
package desc

import (
	"encoding/binary"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
)

// Segment selectors. KernelCode and KernelData are referenced by the trap
// stubs and by every freshly created process frame.
const (
	KernelCode = 0x08
	KernelData = 0x10
	UserCode   = 0x18 | 3
	UserData   = 0x20 | 3
)

const (
	EntrySize  = 8
	GDTEntries = 5
	IDTEntries = 256

	// Each trampoline stub is this many bytes apart starting at the stub base
	StubSize = 16

	GateInterrupt32 = 0x8E // present, DPL 0, 32-bit interrupt gate
	gatePresent     = 0x80

	granularity4K = 0xCF // 4 KiB granularity, 32-bit segment, limit bits 19:16 set
)

// Segment is one GDT entry.
type Segment struct {
	Base   uint32
	Limit  uint32 // 20 bits
	Access uint8
	Flags  uint8 // granularity byte, upper nibble
}

// Encode returns the 8-byte hardware layout of s.
func (s Segment) Encode() [EntrySize]byte {
	var b [EntrySize]byte
	binary.LittleEndian.PutUint16(b[0:], uint16(s.Limit))
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Base))
	b[4] = uint8(s.Base >> 16)
	b[5] = s.Access
	b[6] = s.Flags&0xF0 | uint8(s.Limit>>16)&0x0F
	b[7] = uint8(s.Base >> 24)
	return b
}

// Present reports whether the segment's P bit is set.
func (s Segment) Present() bool {
	return s.Access&0x80 != 0
}

// Code reports whether s is an executable code segment.
func (s Segment) Code() bool {
	return s.Access&0x18 == 0x18
}

// DPL is the descriptor privilege level.
func (s Segment) DPL() uint16 {
	return uint16(s.Access>>5) & 3
}

// DecodeSegment is the inverse of Segment.Encode.
func DecodeSegment(b []byte) Segment {
	return Segment{
		Base:   uint32(binary.LittleEndian.Uint16(b[2:])) | uint32(b[4])<<16 | uint32(b[7])<<24,
		Limit:  uint32(binary.LittleEndian.Uint16(b[0:])) | uint32(b[6]&0x0F)<<16,
		Access: b[5],
		Flags:  b[6] & 0xF0,
	}
}

// FlatGDT returns the kernel's flat segmentation model: null, kernel code,
// kernel data, user code, user data, each covering 4 GiB.
func FlatGDT() []Segment {
	return []Segment{
		{},
		{Base: 0, Limit: 0xFFFFF, Access: 0x9A, Flags: granularity4K},
		{Base: 0, Limit: 0xFFFFF, Access: 0x92, Flags: granularity4K},
		{Base: 0, Limit: 0xFFFFF, Access: 0xFA, Flags: granularity4K},
		{Base: 0, Limit: 0xFFFFF, Access: 0xF2, Flags: granularity4K},
	}
}

// Gate is one IDT entry.
type Gate struct {
	Offset   uint32
	Selector uint16
	Type     uint8
}

// Present reports whether the gate's P bit is set.
func (g Gate) Present() bool {
	return g.Type&gatePresent != 0
}

// Encode returns the 8-byte hardware layout of g.
func (g Gate) Encode() [EntrySize]byte {
	var b [EntrySize]byte
	binary.LittleEndian.PutUint16(b[0:], uint16(g.Offset))
	binary.LittleEndian.PutUint16(b[2:], g.Selector)
	b[4] = 0
	b[5] = g.Type
	binary.LittleEndian.PutUint16(b[6:], uint16(g.Offset>>16))
	return b
}

// DecodeGate is the inverse of Gate.Encode.
func DecodeGate(b []byte) Gate {
	return Gate{
		Offset:   uint32(binary.LittleEndian.Uint16(b[0:])) | uint32(binary.LittleEndian.Uint16(b[6:]))<<16,
		Selector: binary.LittleEndian.Uint16(b[2:]),
		Type:     b[5],
	}
}

// StubAddress returns the address of the entry stub for vector.
func StubAddress(stubBase uint32, vector uint8) uint32 {
	return stubBase + uint32(vector)*StubSize
}

// KernelGates returns one interrupt gate per vector, each pointing at its
// stub.
func KernelGates(stubBase uint32) []Gate {
	gates := make([]Gate, IDTEntries)
	for v := range gates {
		gates[v] = Gate{
			Offset:   StubAddress(stubBase, uint8(v)),
			Selector: KernelCode,
			Type:     GateInterrupt32,
		}
	}
	return gates
}

func install(mem *hw.Memory, base uint32, entries [][EntrySize]byte, want int) hw.DescriptorRegister {
	size := len(entries) * EntrySize
	kernel.Assert(size == want*EntrySize, "sizeof(table) == entries*8")
	for i, e := range entries {
		mem.Copy(base+uint32(i*EntrySize), e[:])
	}
	return hw.DescriptorRegister{Base: base, Limit: uint16(size - 1)}
}

// LoadGDT writes segs at base and loads GDTR (lgdt).
func LoadGDT(mem *hw.Memory, cpu *hw.CPU, base uint32, segs []Segment) {
	entries := make([][EntrySize]byte, len(segs))
	for i, s := range segs {
		entries[i] = s.Encode()
	}
	cpu.GDTR = install(mem, base, entries, GDTEntries)
}

// LoadIDT writes gates at base and loads IDTR (lidt).
func LoadIDT(mem *hw.Memory, cpu *hw.CPU, base uint32, gates []Gate) {
	entries := make([][EntrySize]byte, len(gates))
	for i, g := range gates {
		entries[i] = g.Encode()
	}
	cpu.IDTR = install(mem, base, entries, IDTEntries)
}

// Lookup reads the gate for vector from the active IDT. A vector outside
// the loaded table reads as a not-present gate.
func Lookup(mem *hw.Memory, cpu *hw.CPU, vector uint8) Gate {
	off := uint32(vector) * EntrySize
	if cpu.IDTR.Limit == 0 || off+EntrySize-1 > uint32(cpu.IDTR.Limit) {
		return Gate{}
	}
	return DecodeGate(mem.Bytes(cpu.IDTR.Base+off, EntrySize))
}

// LookupSegment returns the GDT entry selected by sel.
func LookupSegment(mem *hw.Memory, cpu *hw.CPU, sel uint16) Segment {
	off := uint32(sel &^ 7)
	kernel.Assert(off+EntrySize-1 <= uint32(cpu.GDTR.Limit), "selector within GDT limit")
	return DecodeSegment(mem.Bytes(cpu.GDTR.Base+off, EntrySize))
}
