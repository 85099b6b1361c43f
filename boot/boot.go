// Package boot holds what the kernel core receives from the bootloader (the
// multiboot memory descriptor and module list) and the bump allocator used
// before the frame allocator exists.
package boot

import (
	"log/slog"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
)

const PageSize = 4096

// Module is a blob loaded next to the kernel by the bootloader.
type Module struct {
	Name string
	Data []byte
}

// Info is the subset of the multiboot information structure the core uses.
// MemLower and MemUpper are in KiB, as the bootloader reports them.
type Info struct {
	MemLower uint32
	MemUpper uint32
	Modules  []Module
}

// NewInfo describes a machine with total bytes of RAM, reported the way a
// BIOS does: 640 KiB of conventional memory, the rest above 1 MiB.
func NewInfo(total uint32, mods ...Module) Info {
	kib := total / 1024
	lower := uint32(640)
	if kib < lower {
		lower = kib
	}
	return Info{MemLower: lower, MemUpper: kib - lower, Modules: mods}
}

// TotalMemory returns the installed RAM in bytes.
func (i Info) TotalMemory() uint32 {
	return 1024 * (i.MemLower + i.MemUpper)
}

func roundUp(v uint32) uint32 {
	return (v + PageSize - 1) &^ (PageSize - 1)
}

// Allocator hands out page-rounded regions of physical memory, bottom up.
// Nothing it returns is ever freed: the frame allocator reserves every frame
// below End.
type Allocator struct {
	next  uint32
	limit uint32
	log   *slog.Logger
}

// NewAllocator returns an allocator handing out [start, limit).
func NewAllocator(start, limit uint32, log *slog.Logger) *Allocator {
	if log == nil {
		log = slog.Default()
	}
	return &Allocator{next: roundUp(start), limit: limit, log: log}
}

// Alloc returns the address of a fresh region of at least size bytes.
func (a *Allocator) Alloc(size uint32) uint32 {
	size = roundUp(size)
	kernel.Assert(uint64(a.next)+uint64(size) <= uint64(a.limit), "boot allocation within total memory")
	addr := a.next
	a.next += size
	a.log.Debug("boot alloc", "addr", addr, "size", size)
	return addr
}

// End returns the first address past the last allocation.
func (a *Allocator) End() uint32 {
	return a.next
}

// LoadedModule is a boot module copied into physical memory.
type LoadedModule struct {
	Name string
	Addr uint32
	Size uint32
}

// Bytes returns the module image. The slice aliases physical memory.
func (m LoadedModule) Bytes(mem *hw.Memory) []byte {
	return mem.Bytes(m.Addr, m.Size)
}

// LoadModules copies every module into memory obtained from a.
func LoadModules(a *Allocator, mem *hw.Memory, mods []Module) []LoadedModule {
	loaded := make([]LoadedModule, 0, len(mods))
	for _, m := range mods {
		size := uint32(len(m.Data))
		addr := a.Alloc(size)
		mem.Copy(addr, m.Data)
		loaded = append(loaded, LoadedModule{Name: m.Name, Addr: addr, Size: size})
		a.log.Info("module loaded", "name", m.Name, "addr", addr, "size", size)
	}
	return loaded
}

// Find returns the module named name.
func Find(mods []LoadedModule, name string) (LoadedModule, bool) {
	for _, m := range mods {
		if m.Name == name {
			return m, true
		}
	}
	return LoadedModule{}, false
}
