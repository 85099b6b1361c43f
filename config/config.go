// Package config loads the machine and kernel parameters from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mrkct/experimental-os/kernel"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = &kernel.Error{Module: "config", Message: "invalid configuration"}

const (
	pageSize  = 4096
	tableSpan = 4 << 20 // bytes covered by one page table
)

// Config holds every tunable of the kernel core.
type Config struct {
	// TotalMemory is the RAM the bootloader reports, in bytes
	TotalMemory uint32 `json:"total_memory"`

	// FreeMemoryStart is the first address past the kernel image, where the
	// boot allocator starts
	FreeMemoryStart uint32 `json:"free_memory_start"`

	// KernelSplit is the first address private to a process. Directory
	// entries below it are shared with the kernel.
	KernelSplit uint32 `json:"kernel_split"`

	IRQOffset       uint8  `json:"irq_offset"`
	TimerHz         uint32 `json:"timer_hz"`
	MaxProcesses    int    `json:"max_processes"`
	KernelStackSize uint32 `json:"kernel_stack_size"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Modules are files handed to the kernel as boot modules
	Modules []string `json:"modules"`
}

// Default returns the configuration of the reference machine: 64 MiB of RAM
// and a kernel image ending below 11 MiB.
func Default() Config {
	return Config{
		TotalMemory:     64 << 20,
		FreeMemoryStart: 11 << 20,
		KernelSplit:     1 << 30,
		IRQOffset:       32,
		TimerHz:         100,
		MaxProcesses:    64,
		KernelStackSize: 16 << 10,
		LogLevel:        "INFO",
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if err := setupConfig(path, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setupConfig(path string, c *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the values against what the hardware and the kernel
// layout allow.
func (c Config) Validate() error {
	switch {
	case c.TotalMemory < tableSpan || c.TotalMemory%pageSize != 0:
		return invalid("total_memory %d must be a page multiple of at least 4 MiB", c.TotalMemory)
	case c.FreeMemoryStart >= c.TotalMemory:
		return invalid("free_memory_start %#x past total_memory", c.FreeMemoryStart)
	case c.KernelSplit%tableSpan != 0 || c.KernelSplit < c.TotalMemory:
		return invalid("kernel_split %#x must be 4 MiB aligned and above the identity map", c.KernelSplit)
	case c.IRQOffset < 32 || c.IRQOffset > 240 || c.IRQOffset%8 != 0:
		return invalid("irq_offset %d must be a multiple of 8 in [32, 240]", c.IRQOffset)
	case 0x80 >= int(c.IRQOffset) && 0x80 < int(c.IRQOffset)+16:
		return invalid("irq_offset %d overlaps the syscall vector", c.IRQOffset)
	case c.TimerHz < 19 || c.TimerHz > 1193182:
		return invalid("timer_hz %d outside the PIT range", c.TimerHz)
	case c.MaxProcesses < 1:
		return invalid("max_processes %d", c.MaxProcesses)
	case c.KernelStackSize < pageSize:
		return invalid("kernel_stack_size %d below one page", c.KernelStackSize)
	}
	return nil
}
