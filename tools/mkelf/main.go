// Command mkelf wraps flat binaries into an ELF32 i386 executable the kernel
// loader accepts: the text at the base address, the data on the next page.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/mrkct/experimental-os/loader"
)

func main() {
	base := flag.String("base", "0x40000000", "load and entry address")
	data := flag.String("data", "", "flat binary for the writable data segment")
	bss := flag.Uint("bss", 0, "zero-filled bytes after the data")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mkelf [flags] <text-binary> <output-elf>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}

	addr, err := strconv.ParseUint(*base, 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing base address: %v\n", err)
		os.Exit(1)
	}
	text, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading text: %v\n", err)
		os.Exit(1)
	}
	var rw []byte
	if *data != "" {
		if rw, err = os.ReadFile(*data); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading data: %v\n", err)
			os.Exit(1)
		}
	}

	image := build(uint32(addr), text, rw, uint32(*bss))
	if err := os.WriteFile(flag.Arg(1), image, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d bytes to %s, entry %#x\n", len(image), flag.Arg(1), addr)
}

func build(base uint32, text, data []byte, bss uint32) []byte {
	segs := []loader.Segment{{Vaddr: base, Data: text, Flags: elf.PF_R | elf.PF_X}}
	if len(data) > 0 || bss > 0 {
		va := (base + uint32(len(text)) + 0xFFF) &^ 0xFFF
		segs = append(segs, loader.Segment{
			Vaddr: va,
			Data:  data,
			Memsz: uint32(len(data)) + bss,
			Flags: elf.PF_R | elf.PF_W,
		})
	}
	return loader.Build(base, segs)
}
