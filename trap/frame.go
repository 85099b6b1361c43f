package trap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mrkct/experimental-os/hw"
)

// FrameSize is the number of bytes a trap pushes on the kernel stack.
const FrameSize = 64

// Frame is the register snapshot pushed on trap entry, in stack order: DS,
// the pusha block (CurrESP is the stack pointer inside the handler), the
// vector and error code pushed by the stub, then what the CPU pushes.
type Frame struct {
	DS uint32

	EDI     uint32
	ESI     uint32
	EBP     uint32
	CurrESP uint32
	EBX     uint32
	EDX     uint32
	ECX     uint32
	EAX     uint32

	IntNo   uint32
	ErrCode uint32

	EIP     uint32
	CS      uint32
	EFLAGS  uint32
	UserESP uint32
	SS      uint32
}

// Encode returns the little-endian stack image of f.
func (f *Frame) Encode() []byte {
	buf := make([]byte, FrameSize)
	if _, err := binary.Encode(buf, binary.LittleEndian, f); err != nil {
		panic(err)
	}
	return buf
}

// DecodeFrame reads a frame from its stack image.
func DecodeFrame(b []byte) Frame {
	var f Frame
	if _, err := binary.Decode(b[:FrameSize], binary.LittleEndian, &f); err != nil {
		panic(err)
	}
	return f
}

// ReadFrame reads the frame stored at addr.
func ReadFrame(mem *hw.Memory, addr uint32) Frame {
	return DecodeFrame(mem.Bytes(addr, FrameSize))
}

// Store writes f at addr.
func (f *Frame) Store(mem *hw.Memory, addr uint32) {
	mem.Copy(addr, f.Encode())
}

// Dump prints every field, one per line, the way the exception reporter
// shows them.
func (f *Frame) Dump(w io.Writer) {
	fields := []struct {
		name string
		v    uint32
	}{
		{"ds", f.DS}, {"edi", f.EDI}, {"esi", f.ESI}, {"ebp", f.EBP},
		{"curresp", f.CurrESP}, {"ebx", f.EBX}, {"edx", f.EDX}, {"ecx", f.ECX},
		{"eax", f.EAX}, {"int_no", f.IntNo}, {"err_code", f.ErrCode},
		{"eip", f.EIP}, {"cs", f.CS}, {"eflags", f.EFLAGS},
		{"useresp", f.UserESP}, {"ss", f.SS},
	}
	for _, field := range fields {
		fmt.Fprintf(w, "%s: %x\n", field.name, field.v)
	}
}
