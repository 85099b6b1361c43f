package proc

import (
	"github.com/mrkct/experimental-os/mm/vmm"
)

// State is the lifecycle state of a process slot.
type State uint8

const (
	Unused State = iota
	Ready
	Running
	// Waiting is part of the process model but nothing blocks yet
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	}
	return "invalid"
}

// PID identifies a process. PIDs are never reused.
type PID int

// Registers is the register set saved across a context switch: the
// general-purpose registers and the kernel stack pointer the process was
// interrupted at.
type Registers struct {
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
}

// process is one slot of the process table.
type process struct {
	pid   PID
	name  uint32 // kheap string
	state State
	regs  Registers
	dir   vmm.Directory
	stack uint32 // kheap block, 0 for the boot process
	next  int    // ring successor, a slot index
}

// Info is a snapshot of a process for callers outside the scheduler.
type Info struct {
	PID   PID
	Name  string
	State State
	Regs  Registers
	Dir   vmm.Directory
	Stack uint32
}
