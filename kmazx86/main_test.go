package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestReadModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.elf")
	if err := os.WriteFile(path, []byte("\x7fELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	mods, err := readModules([]string{path})
	if err != nil {
		t.Fatalf("readModules() error: %v", err)
	}
	if len(mods) != 1 || mods[0].Name != "hello.elf" || string(mods[0].Data) != "\x7fELF" {
		t.Errorf("readModules() = %+v", mods)
	}
	if _, err := readModules([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("readModules(missing) succeeded")
	}
}

func TestCRLF(t *testing.T) {
	var buf bytes.Buffer
	n, err := crlf{&buf}.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Errorf("Write() = %d, %v", n, err)
	}
	if got := buf.String(); got != "a\r\nb\r\n" {
		t.Errorf("output = %q", got)
	}
}
