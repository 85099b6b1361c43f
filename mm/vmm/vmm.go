// Package vmm manages two-level i386 page tables on top of the frame
// allocator: the identity-mapped kernel directory, per-process directories
// sharing the kernel half, and the software walks the kernel uses to copy
// data into an address space that is not loaded.
package vmm

import (
	"fmt"
	"log/slog"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/pmm"
)

var (
	// ErrNoMemory is returned when a page table or backing frame could not
	// be allocated.
	ErrNoMemory = &kernel.Error{Module: "vmm", Message: "out of memory"}

	// ErrNotMapped is returned when a copy touches a page that is not present.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "address not mapped"}
)

// Directory is the physical address of a page directory.
type Directory uint32

// Frame returns the frame holding the directory.
func (d Directory) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uint32(d))
}

const tablePerms = Present | Writable | User

// Manager owns the kernel directory and the CPU's translation root.
type Manager struct {
	pm    *pmm.Allocator
	mem   *hw.Memory
	cpu   *hw.CPU
	split uint32

	kernelDir Directory
	current   Directory
	log       *slog.Logger
}

// New returns a manager. Directory entries below kernelSplit are shared with
// the kernel directory by every address space.
func New(pm *pmm.Allocator, cpu *hw.CPU, kernelSplit uint32, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	kernel.Assert(kernelSplit%(pmm.PageSize*EntriesPerTable) == 0, "kernelSplit 4 MiB aligned")
	return &Manager{pm: pm, mem: pm.Memory(), cpu: cpu, split: kernelSplit, log: log}
}

// KernelSplit returns the first address private to a process.
func (m *Manager) KernelSplit() uint32 {
	return m.split
}

func (m *Manager) pde(dir Directory, va uint32) uint32 {
	return uint32(dir) + PDX(va)*EntrySize
}

func (m *Manager) readEntry(addr uint32) Entry {
	return Entry(m.mem.Read32(addr))
}

func (m *Manager) writeEntry(addr uint32, e Entry) {
	m.mem.Write32(addr, uint32(e))
}

func (m *Manager) allocFrame() (pmm.Frame, error) {
	f, err := m.pm.Allocate(1)
	if err != nil {
		return pmm.InvalidFrame, ErrNoMemory
	}
	return f, nil
}

// BuildKernel allocates the kernel directory and identity-maps [0, total).
func (m *Manager) BuildKernel(total uint32) (Directory, error) {
	f, err := m.allocFrame()
	if err != nil {
		return 0, err
	}
	dir := Directory(f.Address())
	if err := m.Map(dir, 0, total&^PermMask, 0, Present|Writable|User); err != nil {
		return 0, fmt.Errorf("identity map: %w", err)
	}
	m.kernelDir = dir
	m.log.Info("kernel directory built", "dir", uint32(dir), "mapped", total)
	return dir, nil
}

// KernelDirectory returns the directory built by BuildKernel.
func (m *Manager) KernelDirectory() Directory {
	return m.kernelDir
}

// CreateDirectory returns a new address space whose entries below the split
// point at the kernel's page tables. Entries above the split are absent.
func (m *Manager) CreateDirectory() (Directory, error) {
	kernel.Assert(m.kernelDir != 0, "kernel directory built")
	f, err := m.allocFrame()
	if err != nil {
		return 0, err
	}
	dir := Directory(f.Address())
	for pdx := uint32(0); pdx < PDX(m.split); pdx++ {
		e := m.readEntry(uint32(m.kernelDir) + pdx*EntrySize)
		if !e.Present() {
			continue
		}
		m.pm.Retain(e.Frame())
		m.writeEntry(uint32(dir)+pdx*EntrySize, e)
	}
	m.log.Debug("directory created", "dir", uint32(dir))
	return dir, nil
}

// table returns the address of the page table covering va, allocating it
// when create is set.
func (m *Manager) table(dir Directory, va uint32, create bool) (uint32, error) {
	pde := m.pde(dir, va)
	e := m.readEntry(pde)
	if e.Present() {
		return e.Address(), nil
	}
	if !create {
		return 0, ErrNotMapped
	}
	f, err := m.allocFrame()
	if err != nil {
		return 0, err
	}
	m.writeEntry(pde, makeEntry(f.Address(), tablePerms))
	return f.Address(), nil
}

// Map maps [va, va+size) to [pa, pa+size) in dir with perms. Addresses and
// size must be page aligned and perms must fit in the low 12 bits; violating
// either stops the kernel before any entry is touched.
func (m *Manager) Map(dir Directory, va, size, pa, perms uint32) error {
	kernel.Assert(PGOFF(va) == 0, "va % PGSIZE == 0")
	kernel.Assert(PGOFF(pa) == 0, "pa % PGSIZE == 0")
	kernel.Assert(PGOFF(size) == 0, "size % PGSIZE == 0")
	kernel.Assert(perms>>12 == 0, "perms >> 12 == 0")
	kernel.Assert(uint64(va)+uint64(size) <= 1<<32, "va + size <= 4 GiB")

	for off := uint32(0); off < size; off += pmm.PageSize {
		t, err := m.table(dir, va+off, true)
		if err != nil {
			return err
		}
		pte := t + PTX(va+off)*EntrySize
		// Remapping an owned page elsewhere drops it; changing only the
		// permissions keeps it
		if old := m.readEntry(pte); old.Present() && old.Perms()&OwnedFrame != 0 && old.Address() != pa+off {
			m.pm.Release(old.Frame())
		}
		m.writeEntry(pte, makeEntry(pa+off, perms))
	}
	m.log.Debug("mapped", "dir", uint32(dir), "va", va, "pa", pa, "size", size, "perms", perms)
	return nil
}

// Translate returns the page table entry for va. It reports false when no
// table covers va or the entry is not present. It never allocates.
func (m *Manager) Translate(dir Directory, va uint32) (Entry, bool) {
	t, err := m.table(dir, va, false)
	if err != nil {
		return 0, false
	}
	e := m.readEntry(t + PTX(va)*EntrySize)
	if !e.Present() {
		return 0, false
	}
	return e, true
}

// Load installs dir as the translation root. The first call turns paging on.
func (m *Manager) Load(dir Directory) {
	m.cpu.LoadCR3(uint32(dir))
	if !m.cpu.PagingEnabled() {
		m.cpu.EnablePaging()
		m.log.Info("paging enabled", "dir", uint32(dir))
	}
	m.current = dir
}

// Current returns the directory in CR3.
func (m *Manager) Current() Directory {
	return m.current
}

// AllocRegion backs [va, va+size) with freshly allocated frames, one page at
// a time so the frames need not be contiguous. va is rounded down and size
// up to page boundaries. The frames belong to dir and are returned by
// Release.
func (m *Manager) AllocRegion(dir Directory, va, size, perms uint32) error {
	start := va &^ PermMask
	end := uint64(va) + uint64(size)
	end = (end + pmm.PageSize - 1) &^ PermMask
	for page := uint64(start); page < end; page += pmm.PageSize {
		f, err := m.allocFrame()
		if err != nil {
			return err
		}
		if err := m.Map(dir, uint32(page), pmm.PageSize, f.Address(), perms|OwnedFrame); err != nil {
			m.pm.Release(f)
			return err
		}
	}
	return nil
}

// span calls fn for each page-sized piece of [va, va+n) with the physical
// address backing it.
func (m *Manager) span(dir Directory, va, n uint32, fn func(pa, done, chunk uint32)) error {
	for done := uint32(0); done < n; {
		cur := va + done
		e, ok := m.Translate(dir, cur)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrNotMapped, cur)
		}
		chunk := pmm.PageSize - PGOFF(cur)
		if chunk > n-done {
			chunk = n - done
		}
		fn(e.Address()+PGOFF(cur), done, chunk)
		done += chunk
	}
	return nil
}

// Write copies data to va in dir.
func (m *Manager) Write(dir Directory, va uint32, data []byte) error {
	return m.span(dir, va, uint32(len(data)), func(pa, done, chunk uint32) {
		m.mem.Copy(pa, data[done:done+chunk])
	})
}

// Read copies len(buf) bytes at va in dir into buf.
func (m *Manager) Read(dir Directory, va uint32, buf []byte) error {
	return m.span(dir, va, uint32(len(buf)), func(pa, done, chunk uint32) {
		copy(buf[done:done+chunk], m.mem.Bytes(pa, chunk))
	})
}

// Zero clears n bytes at va in dir.
func (m *Manager) Zero(dir Directory, va, n uint32) error {
	return m.span(dir, va, n, func(pa, _, chunk uint32) {
		m.mem.Zero(pa, chunk)
	})
}

// Walk calls fn for every present page mapping in dir in address order.
// Returning false stops the walk.
func (m *Manager) Walk(dir Directory, fn func(va uint32, e Entry) bool) {
	for pdx := uint32(0); pdx < EntriesPerTable; pdx++ {
		pde := m.readEntry(uint32(dir) + pdx*EntrySize)
		if !pde.Present() {
			continue
		}
		for ptx := uint32(0); ptx < EntriesPerTable; ptx++ {
			e := m.readEntry(pde.Address() + ptx*EntrySize)
			if e.Present() && !fn(pdx<<22|ptx<<12, e) {
				return
			}
		}
	}
}

// Release returns every frame dir owns: frames mapped by AllocRegion, its
// private page tables and the directory frame. Page tables shared with the
// kernel only lose this directory's reference. dir must not be loaded.
func (m *Manager) Release(dir Directory) {
	kernel.Assert(dir != m.kernelDir, "dir != kernel directory")
	kernel.Assert(dir != m.current, "dir != current directory")

	for pdx := uint32(0); pdx < EntriesPerTable; pdx++ {
		pde := m.readEntry(uint32(dir) + pdx*EntrySize)
		if !pde.Present() {
			continue
		}
		if m.pm.Refs(pde.Frame()) == 1 {
			for ptx := uint32(0); ptx < EntriesPerTable; ptx++ {
				e := m.readEntry(pde.Address() + ptx*EntrySize)
				if e.Present() && e.Perms()&OwnedFrame != 0 {
					m.pm.Release(e.Frame())
				}
			}
		}
		m.pm.Release(pde.Frame())
	}
	m.pm.Release(dir.Frame())
	m.log.Debug("directory released", "dir", uint32(dir))
}
