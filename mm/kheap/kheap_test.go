package kheap

import (
	"errors"
	"testing"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/pmm"
)

func newHeap(t *testing.T, frames uint32) (*Heap, *pmm.Allocator) {
	t.Helper()
	total := frames * pmm.PageSize
	pm := pmm.New(hw.NewMemory(total), total, pmm.PageSize, nil)
	return New(pm, nil), pm
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if _, ok := kernel.AsFatal(recover()); !ok {
			t.Errorf("%s did not stop the kernel", name)
		}
	}()
	fn()
}

func TestPages(t *testing.T) {
	tests := []struct {
		size  uint32
		pages int
	}{
		{0, 1},
		{1, 1},
		{pmm.PageSize - HeaderSize, 1},
		{pmm.PageSize - HeaderSize + 1, 2},
		{16 * 1024, 5},
	}
	for _, test := range tests {
		if got := Pages(test.size); got != test.pages {
			t.Errorf("Pages(%d) = %d, want %d", test.size, got, test.pages)
		}
	}
}

func TestAllocFree(t *testing.T) {
	h, pm := newHeap(t, 32)
	baseline := pm.Stats()

	addr, err := h.Alloc(5000)
	if err != nil {
		t.Fatal(err)
	}
	if addr%pmm.PageSize != HeaderSize {
		t.Errorf("Alloc() = %#x, want a frame address + %d", addr, HeaderSize)
	}
	if got := h.Size(addr); got != 2*pmm.PageSize-HeaderSize {
		t.Errorf("Size() = %d", got)
	}
	if got := pm.Stats().Allocated; got != 2 {
		t.Errorf("frames allocated = %d, want 2", got)
	}
	if m := pm.Memory().Read32(addr - HeaderSize); m != Magic {
		t.Errorf("magic = %#x", m)
	}

	h.Free(addr)
	if pm.Stats() != baseline {
		t.Errorf("Stats() after Free = %+v, want %+v", pm.Stats(), baseline)
	}
	mustPanic(t, "double Free", func() { h.Free(addr) })
}

func TestFreeBadAddress(t *testing.T) {
	h, _ := newHeap(t, 8)
	addr, _ := h.Alloc(10)
	mustPanic(t, "Free(interior)", func() { h.Free(addr + 4) })
	mustPanic(t, "Free(0)", func() { h.Free(0) })
}

func TestAllocExhausted(t *testing.T) {
	h, _ := newHeap(t, 8)
	if _, err := h.Alloc(8 * pmm.PageSize); !errors.Is(err, ErrNoMemory) {
		t.Errorf("Alloc() error = %v, want ErrNoMemory", err)
	}
}

func TestStrings(t *testing.T) {
	h, _ := newHeap(t, 8)
	addr, err := h.AllocString("Monitor")
	if err != nil {
		t.Fatal(err)
	}
	if got := h.ReadString(addr); got != "Monitor" {
		t.Errorf("ReadString() = %q, want %q", got, "Monitor")
	}
}
