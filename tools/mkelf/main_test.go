package main

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		text  []byte
		data  []byte
		bss   uint32
		progs int
	}{
		{"text only", []byte{0x90, 0xc3}, nil, 0, 1},
		{"text and data", []byte{0x90, 0xc3}, []byte("hi\n"), 0, 2},
		{"bss only", make([]byte, 5000), nil, 64, 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, err := elf.NewFile(bytes.NewReader(build(0x40000000, test.text, test.data, test.bss)))
			if err != nil {
				t.Fatalf("elf.NewFile() error: %v", err)
			}
			if f.Entry != 0x40000000 || f.Machine != elf.EM_386 || f.Class != elf.ELFCLASS32 {
				t.Errorf("header = %+v", f.FileHeader)
			}
			if len(f.Progs) != test.progs {
				t.Fatalf("%d segments, want %d", len(f.Progs), test.progs)
			}
			if test.progs == 2 {
				p := f.Progs[1]
				if p.Vaddr%0x1000 != 0 || p.Vaddr < 0x40000000+uint64(len(test.text)) {
					t.Errorf("data segment at %#x", p.Vaddr)
				}
				if p.Memsz != uint64(len(test.data))+uint64(test.bss) {
					t.Errorf("Memsz = %d", p.Memsz)
				}
			}
		})
	}
}
