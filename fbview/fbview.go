// Package fbview draws the physical frame table and the layout of an address
// space as images, for looking at the memory managers from the outside.
package fbview

import (
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/mrkct/experimental-os/mm/pmm"
	"github.com/mrkct/experimental-os/mm/vmm"
)

// Layout of the rendered grids
const (
	Cell    = 4   // side of one cell, in pixels
	Columns = 256 // cells per row of the frame map
	Legend  = 20  // height of the text band above the grid

	// The address-space map has one cell per page table
	spaceColumns = 32
	spaceCell    = 12
)

// Frame colours
var (
	Background = color.RGBA{0x10, 0x10, 0x10, 0xff}
	Reserved   = color.RGBA{0x70, 0x70, 0x70, 0xff}
	Free       = color.RGBA{0x20, 0xa0, 0x40, 0xff}
	Allocated  = color.RGBA{0x30, 0x60, 0xd0, 0xff}
	Shared     = color.RGBA{0xe0, 0x90, 0x20, 0xff}
	Text       = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

// Address-space colours
var (
	Unmapped    = color.RGBA{0x00, 0x00, 0x00, 0xff}
	KernelSpace = color.RGBA{0x30, 0x60, 0xd0, 0xff}
	UserSpace   = color.RGBA{0xd0, 0x30, 0x30, 0xff}
)

// FrameColor returns the colour of frame f in the frame map.
func FrameColor(pm *pmm.Allocator, f pmm.Frame) color.RGBA {
	switch pm.State(f) {
	case pmm.Reserved:
		return Reserved
	case pmm.Free:
		return Free
	}
	if pm.Refs(f) > 1 {
		return Shared
	}
	return Allocated
}

func frameCell(i int) (x, y int) {
	return (i % Columns) * Cell, Legend + (i/Columns)*Cell
}

// RenderFrames draws every frame of pm as a cell, in address order, left to
// right and top to bottom, under a legend with the allocator statistics.
func RenderFrames(pm *pmm.Allocator) *gg.Context {
	n := pm.Count()
	rows := (n + Columns - 1) / Columns
	dc := gg.NewContext(Columns*Cell, Legend+rows*Cell)
	dc.SetColor(Background)
	dc.Clear()

	for i := 0; i < n; i++ {
		x, y := frameCell(i)
		dc.SetColor(FrameColor(pm, pmm.Frame(i)))
		dc.DrawRectangle(float64(x), float64(y), Cell, Cell)
		dc.Fill()
	}

	st := pm.Stats()
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(Text)
	dc.DrawString(fmt.Sprintf("frames %d  free %d  allocated %d  reserved %d",
		st.Total, st.Free, st.Allocated, st.Reserved), 4, 14)
	return dc
}

// TableUsage is what one page table of an address space maps. User tables
// lie above the kernel split and belong to the process alone.
type TableUsage struct {
	Pages int
	User  bool
}

// Usage counts the present mappings of dir per page table.
func Usage(vm *vmm.Manager, dir vmm.Directory) [vmm.EntriesPerTable]TableUsage {
	var u [vmm.EntriesPerTable]TableUsage
	split := vm.KernelSplit()
	vm.Walk(dir, func(va uint32, _ vmm.Entry) bool {
		t := &u[vmm.PDX(va)]
		t.Pages++
		t.User = va >= split
		return true
	})
	return u
}

// SpaceColor returns the colour of a page table's cell: black when nothing
// is mapped, otherwise blue for kernel and red for user mappings, brighter
// the fuller the table is.
func SpaceColor(t TableUsage) color.RGBA {
	if t.Pages == 0 {
		return Unmapped
	}
	c := KernelSpace
	if t.User {
		c = UserSpace
	}
	// Scale to [1/4, 1] of full intensity
	scale := func(v uint8) uint8 {
		return uint8(uint32(v) * uint32(vmm.EntriesPerTable+3*t.Pages) / (4 * vmm.EntriesPerTable))
	}
	return color.RGBA{scale(c.R), scale(c.G), scale(c.B), 0xff}
}

func spaceCellAt(pdx int) (x, y int) {
	return (pdx % spaceColumns) * spaceCell, Legend + (pdx/spaceColumns)*spaceCell
}

// RenderAddressSpace draws the 4 GiB space of dir as a grid of page tables,
// one cell per 4 MiB, with the kernel split marked by a line.
func RenderAddressSpace(vm *vmm.Manager, dir vmm.Directory) *gg.Context {
	rows := vmm.EntriesPerTable / spaceColumns
	dc := gg.NewContext(spaceColumns*spaceCell, Legend+rows*spaceCell)
	dc.SetColor(Background)
	dc.Clear()

	usage := Usage(vm, dir)
	pages := 0
	for pdx, t := range usage {
		x, y := spaceCellAt(pdx)
		dc.SetColor(SpaceColor(t))
		dc.DrawRectangle(float64(x)+1, float64(y)+1, spaceCell-2, spaceCell-2)
		dc.Fill()
		pages += t.Pages
	}

	split := int(vmm.PDX(vm.KernelSplit()))
	if split < vmm.EntriesPerTable {
		_, y := spaceCellAt(split)
		dc.SetColor(Text)
		dc.SetLineWidth(1)
		dc.DrawLine(0, float64(y), float64(spaceColumns*spaceCell), float64(y))
		dc.Stroke()
	}

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(Text)
	dc.DrawString(fmt.Sprintf("dir %#x  %d pages", uint32(dir), pages), 4, 14)
	return dc
}
