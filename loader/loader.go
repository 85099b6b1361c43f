// Package loader maps ELF32 executables into an address space.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"log/slog"

	"github.com/mrkct/experimental-os/bitfield"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/pmm"
	"github.com/mrkct/experimental-os/mm/vmm"
)

var (
	// ErrNotELF is returned for images that are not 32-bit i386 ELF files.
	ErrNotELF = &kernel.Error{Module: "loader", Message: "not an ELF image"}

	// ErrBadSegment is returned for a loadable segment that cannot be mapped.
	ErrBadSegment = &kernel.Error{Module: "loader", Message: "malformed segment"}
)

// SegmentPerms returns the permissions a segment with ELF flags is mapped
// with: always present and user accessible, writable only with PF_W.
func SegmentPerms(flags elf.ProgFlag) uint32 {
	return vmm.Perms(bitfield.EntryFlags{
		Present:  true,
		Writable: flags&elf.PF_W != 0,
		User:     true,
	})
}

// Load maps every PT_LOAD segment of image into dir and returns the entry
// point. Bytes of a segment past its file size are zeroed.
func Load(vm *vmm.Manager, dir vmm.Directory, image []byte, log *slog.Logger) (uint32, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_386 {
		return 0, fmt.Errorf("%w: %v %v", ErrNotELF, f.Class, f.Machine)
	}

	// Every segment is checked before the first one is mapped. Below the
	// split the tables are shared with the kernel and map its memory.
	split := uint64(vm.KernelSplit())
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Memsz < p.Filesz || p.Vaddr+p.Memsz > 1<<32 || p.Vaddr < split {
			return 0, fmt.Errorf("%w: segment %d at %#x", ErrBadSegment, i, p.Vaddr)
		}
	}

	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		vaddr, filesz, memsz := uint32(p.Vaddr), uint32(p.Filesz), uint32(p.Memsz)

		if err := mapSegment(vm, dir, vaddr, memsz, SegmentPerms(p.Flags)); err != nil {
			return 0, err
		}
		data := make([]byte, filesz)
		if _, err := io.ReadFull(p.Open(), data); err != nil {
			return 0, fmt.Errorf("%w: segment %d: %v", ErrBadSegment, i, err)
		}
		if err := vm.Write(dir, vaddr, data); err != nil {
			return 0, err
		}
		// Whatever the frames held before must not show through .bss
		if err := vm.Zero(dir, vaddr+filesz, memsz-filesz); err != nil {
			return 0, err
		}
		log.Debug("segment loaded", "vaddr", vaddr, "filesz", filesz, "memsz", memsz)
	}
	return uint32(f.Entry), nil
}

// mapSegment backs [va, va+size) with fresh frames. A page an earlier
// segment already mapped keeps its frame and gains write access if this
// segment needs it.
func mapSegment(vm *vmm.Manager, dir vmm.Directory, va, size, perms uint32) error {
	end := uint64(va) + uint64(size)
	for page := uint64(va &^ (pmm.PageSize - 1)); page < end; page += pmm.PageSize {
		if e, ok := vm.Translate(dir, uint32(page)); ok {
			if missing := perms &^ e.Perms(); missing&vmm.Writable != 0 {
				if err := vm.Map(dir, uint32(page), pmm.PageSize, e.Address(), e.Perms()|vmm.Writable); err != nil {
					return err
				}
			}
			continue
		}
		if err := vm.AllocRegion(dir, uint32(page), pmm.PageSize, perms); err != nil {
			return err
		}
	}
	return nil
}
