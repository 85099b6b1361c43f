package fbview

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/fogleman/gg"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/mm/pmm"
	"github.com/mrkct/experimental-os/mm/vmm"
)

const testMemory = 16 << 20

func at(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func newMachine(t *testing.T) (*pmm.Allocator, *vmm.Manager) {
	t.Helper()
	mem := hw.NewMemory(testMemory)
	pm := pmm.New(mem, testMemory, 1<<20, nil)
	vm := vmm.New(pm, hw.NewCPU(), 1<<30, nil)
	dir, err := vm.BuildKernel(testMemory)
	if err != nil {
		t.Fatal(err)
	}
	vm.Load(dir)
	return pm, vm
}

func TestRenderFrames(t *testing.T) {
	pm, _ := newMachine(t)
	owned, err := pm.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := pm.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	pm.Retain(shared)

	img := RenderFrames(pm).Image()
	rows := (pm.Count() + Columns - 1) / Columns
	if got, want := img.Bounds().Size(), image.Pt(Columns*Cell, Legend+rows*Cell); got != want {
		t.Errorf("size = %v, want %v", got, want)
	}

	var free pmm.Frame
	for f := pmm.Frame(0); int(f) < pm.Count(); f++ {
		if pm.State(f) == pmm.Free {
			free = f
			break
		}
	}
	tests := []struct {
		name  string
		frame pmm.Frame
		want  color.RGBA
	}{
		{"reserved", 0, Reserved},
		{"free", free, Free},
		{"allocated", owned, Allocated},
		{"shared", shared, Shared},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := FrameColor(pm, test.frame); got != test.want {
				t.Errorf("FrameColor(%d) = %v, want %v", test.frame, got, test.want)
			}
			x, y := frameCell(int(test.frame))
			if got := at(img, x+Cell/2, y+Cell/2); got != test.want {
				t.Errorf("pixel of frame %d = %v, want %v", test.frame, got, test.want)
			}
		})
	}
}

func TestUsage(t *testing.T) {
	_, vm := newMachine(t)
	dir, err := vm.CreateDirectory()
	if err != nil {
		t.Fatal(err)
	}
	if err := vm.AllocRegion(dir, 0x40000000, 3*pmm.PageSize, vmm.Writable|vmm.User); err != nil {
		t.Fatal(err)
	}

	u := Usage(vm, dir)
	if u[0].Pages != vmm.EntriesPerTable || u[0].User {
		t.Errorf("Usage()[0] = %+v, want a full kernel table", u[0])
	}
	if got := u[vmm.PDX(0x40000000)]; got.Pages != 3 || !got.User {
		t.Errorf("Usage()[256] = %+v, want 3 user pages", got)
	}
	if u[vmm.PDX(testMemory)].Pages != 0 {
		t.Errorf("Usage() past the identity map = %+v", u[vmm.PDX(testMemory)])
	}
}

func TestSpaceColor(t *testing.T) {
	tests := []struct {
		in   TableUsage
		want color.RGBA
	}{
		{TableUsage{}, Unmapped},
		{TableUsage{Pages: vmm.EntriesPerTable}, KernelSpace},
		{TableUsage{Pages: vmm.EntriesPerTable, User: true}, UserSpace},
	}
	for _, test := range tests {
		if got := SpaceColor(test.in); got != test.want {
			t.Errorf("SpaceColor(%+v) = %v, want %v", test.in, got, test.want)
		}
	}
	dim := SpaceColor(TableUsage{Pages: 1, User: true})
	if dim.R >= UserSpace.R || dim.R == 0 {
		t.Errorf("SpaceColor(1 page) = %v, want a dimmed red", dim)
	}
}

func TestRenderAddressSpace(t *testing.T) {
	_, vm := newMachine(t)
	img := RenderAddressSpace(vm, vm.KernelDirectory()).Image()

	x, y := spaceCellAt(0)
	if got := at(img, x+spaceCell/2, y+spaceCell/2); got != KernelSpace {
		t.Errorf("pixel of table 0 = %v, want %v", got, KernelSpace)
	}
	x, y = spaceCellAt(int(vmm.PDX(0x80000000)))
	if got := at(img, x+spaceCell/2, y+spaceCell/2); got != Unmapped {
		t.Errorf("pixel of table 512 = %v, want %v", got, Unmapped)
	}
}

func TestSavePNG(t *testing.T) {
	pm, _ := newMachine(t)
	path := filepath.Join(t.TempDir(), "frames.png")
	if err := RenderFrames(pm).SavePNG(path); err != nil {
		t.Fatalf("SavePNG() error: %v", err)
	}
	img, err := gg.LoadPNG(path)
	if err != nil {
		t.Fatalf("LoadPNG() error: %v", err)
	}
	if img.Bounds().Dx() != Columns*Cell {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}
