package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	headerSize = 52
	progSize   = 32
	pageAlign  = 0x1000
)

// Segment describes one PT_LOAD segment for Build.
type Segment struct {
	Vaddr uint32
	Data  []byte
	// Memsz is the in-memory size. Values smaller than len(Data) are raised
	// to it.
	Memsz uint32
	Flags elf.ProgFlag
}

// Build returns an ELF32 i386 executable holding segs. Each segment's file
// offset is congruent to its address modulo the page size.
func Build(entry uint32, segs []Segment) []byte {
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: progSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	progs := make([]elf.Prog32, len(segs))
	off := uint32(headerSize + progSize*len(segs))
	for i, s := range segs {
		off = (off+pageAlign-1)&^(pageAlign-1) + s.Vaddr%pageAlign
		memsz := s.Memsz
		if memsz < uint32(len(s.Data)) {
			memsz = uint32(len(s.Data))
		}
		progs[i] = elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint32(len(s.Data)),
			Memsz:  memsz,
			Flags:  uint32(s.Flags),
			Align:  pageAlign,
		}
		off += uint32(len(s.Data))
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, progs)
	for i, s := range segs {
		buf.Write(make([]byte, int(progs[i].Off)-buf.Len()))
		buf.Write(s.Data)
	}
	return buf.Bytes()
}
