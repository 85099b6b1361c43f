package desc

import (
	"bytes"
	"testing"

	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
)

func TestSegmentEncode(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
		want []byte
	}{
		{"null", Segment{}, []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{"kernel code", FlatGDT()[1], []byte{0xff, 0xff, 0, 0, 0, 0x9a, 0xcf, 0}},
		{"kernel data", FlatGDT()[2], []byte{0xff, 0xff, 0, 0, 0, 0x92, 0xcf, 0}},
		{"user code", FlatGDT()[3], []byte{0xff, 0xff, 0, 0, 0, 0xfa, 0xcf, 0}},
		{"user data", FlatGDT()[4], []byte{0xff, 0xff, 0, 0, 0, 0xf2, 0xcf, 0}},
		{"based", Segment{Base: 0x12345678, Limit: 0xABCDE, Access: 0x92, Flags: 0x40},
			[]byte{0xde, 0xbc, 0x78, 0x56, 0x34, 0x92, 0x4a, 0x12}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.seg.Encode()
			if !bytes.Equal(got[:], test.want) {
				t.Errorf("Encode() = % x, want % x", got, test.want)
			}
			if back := DecodeSegment(got[:]); back != test.seg {
				t.Errorf("DecodeSegment() = %+v, want %+v", back, test.seg)
			}
		})
	}
}

func TestGateEncode(t *testing.T) {
	g := Gate{Offset: 0x00105a30, Selector: KernelCode, Type: GateInterrupt32}
	got := g.Encode()
	want := []byte{0x30, 0x5a, 0x08, 0x00, 0x00, 0x8e, 0x10, 0x00}
	if !bytes.Equal(got[:], want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
	if DecodeGate(got[:]) != g {
		t.Errorf("DecodeGate() = %+v", DecodeGate(got[:]))
	}
	if !g.Present() || (Gate{}).Present() {
		t.Error("Present() wrong")
	}
}

func TestLoadTables(t *testing.T) {
	mem := hw.NewMemory(0x10000)
	cpu := hw.NewCPU()

	LoadGDT(mem, cpu, 0x1000, FlatGDT())
	if cpu.GDTR.Base != 0x1000 || cpu.GDTR.Limit != GDTEntries*EntrySize-1 {
		t.Errorf("GDTR = %+v", cpu.GDTR)
	}
	if s := LookupSegment(mem, cpu, KernelData); s.Access != 0x92 {
		t.Errorf("LookupSegment(KernelData).Access = %#x, want 0x92", s.Access)
	}
	if s := LookupSegment(mem, cpu, UserCode); s.Access != 0xFA {
		t.Errorf("LookupSegment(UserCode).Access = %#x, want 0xfa", s.Access)
	}
	for _, sel := range []uint16{KernelCode, KernelData, UserCode, UserData} {
		s := LookupSegment(mem, cpu, sel)
		if !s.Present() || s.DPL() != sel&3 || s.Code() != (sel == KernelCode || sel == UserCode) {
			t.Errorf("LookupSegment(%#x) = %+v", sel, s)
		}
	}

	LoadIDT(mem, cpu, 0x2000, KernelGates(0x100000))
	if cpu.IDTR.Limit != IDTEntries*EntrySize-1 {
		t.Errorf("IDTR.Limit = %d", cpu.IDTR.Limit)
	}
	for _, v := range []uint8{0, 14, 32, 0x80, 255} {
		g := Lookup(mem, cpu, v)
		if g.Offset != StubAddress(0x100000, v) || g.Selector != KernelCode || g.Type != GateInterrupt32 {
			t.Errorf("Lookup(%d) = %+v", v, g)
		}
	}
}

func TestLookupWithoutIDT(t *testing.T) {
	mem := hw.NewMemory(0x1000)
	if g := Lookup(mem, hw.NewCPU(), 3); g.Present() {
		t.Errorf("Lookup() before lidt = %+v, want not present", g)
	}
}

func TestMalformedTableSize(t *testing.T) {
	tests := []struct {
		name string
		load func(*hw.Memory, *hw.CPU)
	}{
		{"gdt", func(m *hw.Memory, c *hw.CPU) { LoadGDT(m, c, 0, FlatGDT()[:4]) }},
		{"idt", func(m *hw.Memory, c *hw.CPU) { LoadIDT(m, c, 0, KernelGates(0)[:255]) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mem := hw.NewMemory(0x1000)
			cpu := hw.NewCPU()
			defer func() {
				if _, ok := kernel.AsFatal(recover()); !ok {
					t.Error("malformed table was loaded")
				}
				if cpu.GDTR.Limit != 0 || cpu.IDTR.Limit != 0 {
					t.Error("descriptor register written for a malformed table")
				}
			}()
			test.load(mem, cpu)
		})
	}
}
