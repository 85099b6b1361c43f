// Package hw models the single-CPU i386 machine the kernel core runs on:
// physical RAM, the CPU's control state, the port bus and the devices wired
// to it (two cascaded 8259 PICs, the 8253 PIT and the PS/2 controller).
package hw

import (
	"encoding/binary"

	"github.com/mrkct/experimental-os/kernel"
)

// Memory is the machine's physical RAM. Multi-byte values are little endian.
type Memory struct {
	data []byte
}

// NewMemory returns size bytes of zeroed RAM.
func NewMemory(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the installed memory in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *Memory) check(addr, n uint32) {
	// Accessing RAM that is not installed is a machine check
	kernel.Assert(uint64(addr)+uint64(n) <= uint64(len(m.data)), "addr+n <= memory size")
}

// Read32 reads the 32-bit word at addr.
func (m *Memory) Read32(addr uint32) uint32 {
	m.check(addr, 4)
	return binary.LittleEndian.Uint32(m.data[addr:])
}

// Write32 writes the 32-bit word v at addr.
func (m *Memory) Write32(addr, v uint32) {
	m.check(addr, 4)
	binary.LittleEndian.PutUint32(m.data[addr:], v)
}

// Bytes returns the n bytes starting at addr. The slice aliases RAM.
func (m *Memory) Bytes(addr, n uint32) []byte {
	m.check(addr, n)
	return m.data[addr : addr+n : addr+n]
}

// Copy writes src at addr.
func (m *Memory) Copy(addr uint32, src []byte) {
	m.check(addr, uint32(len(src)))
	copy(m.data[addr:], src)
}

// Zero clears n bytes starting at addr.
func (m *Memory) Zero(addr, n uint32) {
	m.check(addr, n)
	clear(m.data[addr : addr+n])
}

// Fill writes n copies of b starting at addr.
func (m *Memory) Fill(addr, n uint32, b byte) {
	m.check(addr, n)
	region := m.data[addr : addr+n]
	for i := range region {
		region[i] = b
	}
}
