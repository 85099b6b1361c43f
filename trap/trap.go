// Package trap is the single entry point for CPU exceptions, device IRQs and
// the system-call gate. The entry trampoline pushes an interrupt frame on
// the current kernel stack, Dispatch classifies the vector and routes it,
// and Return resumes whatever the frame's stack pointer says, which is how
// the scheduler switches processes.
package trap

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/mrkct/experimental-os/bitfield"
	"github.com/mrkct/experimental-os/desc"
	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
)

// IRQLines is the number of device lines behind the two PICs.
const IRQLines = 16

// Scheduler is the scheduling decision point, run on every timer tick and
// after every system call.
type Scheduler interface {
	Tick(f *Frame)
	CurrentPID() int
}

// SyscallHandler runs system call no with the five argument registers and
// returns the value for EAX.
type SyscallHandler interface {
	Syscall(no uint32, args [5]uint32) uint32
}

// ByteSink receives bytes read from a device.
type ByteSink interface {
	HandleByte(b byte)
}

// ByteSinkFunc adapts a function to ByteSink.
type ByteSinkFunc func(b byte)

// HandleByte calls fn(b).
func (fn ByteSinkFunc) HandleByte(b byte) { fn(b) }

// Handler services one device line.
type Handler func(f *Frame)

// Config describes how the dispatcher is wired to the machine.
type Config struct {
	// IRQOffset is the vector of device line 0. It must match what the
	// PICs were programmed with.
	IRQOffset uint8

	// KernelDirectory is reported next to CR3 on a page fault.
	KernelDirectory uint32

	// Console receives exception diagnostics.
	Console io.Writer

	Log *slog.Logger
}

// Dispatcher classifies and routes traps.
type Dispatcher struct {
	m         *hw.Machine
	offset    uint8
	kernelDir uint32
	console   io.Writer
	log       *slog.Logger

	handlers [IRQLines]Handler
	sched    Scheduler
	syscalls SyscallHandler
	keyboard ByteSink
	mouse    ByteSink

	ticks      uint64
	exceptions int
	counts     [256]uint64
}

// New returns a dispatcher with the timer, keyboard, mouse and disk lines
// registered.
func New(m *hw.Machine, cfg Config) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	d := &Dispatcher{
		m:         m,
		offset:    cfg.IRQOffset,
		kernelDir: cfg.KernelDirectory,
		console:   cfg.Console,
		log:       cfg.Log,
	}
	d.Register(hw.IRQTimer, d.timer)
	d.Register(hw.IRQKeyboard, d.keyboardIRQ)
	d.Register(hw.IRQMouse, d.mouseIRQ)
	// Disk controllers are acknowledged and otherwise ignored
	d.Register(hw.IRQATAPrimary, func(*Frame) {})
	d.Register(hw.IRQATASecondary, func(*Frame) {})
	return d
}

// Register installs h for device line.
func (d *Dispatcher) Register(line uint8, h Handler) {
	kernel.Assert(line < IRQLines, "line < 16")
	d.handlers[line] = h
}

// SetScheduler installs the scheduler run on timer ticks and syscalls.
func (d *Dispatcher) SetScheduler(s Scheduler) { d.sched = s }

// SetSyscalls installs the system-call table.
func (d *Dispatcher) SetSyscalls(h SyscallHandler) { d.syscalls = h }

// SetKeyboard installs the consumer of keyboard bytes.
func (d *Dispatcher) SetKeyboard(s ByteSink) { d.keyboard = s }

// SetMouse installs the consumer of mouse packet bytes.
func (d *Dispatcher) SetMouse(s ByteSink) { d.mouse = s }

// Ticks returns the number of timer interrupts serviced.
func (d *Dispatcher) Ticks() uint64 { return d.ticks }

// Count returns how many times vector was dispatched.
func (d *Dispatcher) Count(vector uint8) uint64 { return d.counts[vector] }

// Entry is the trap trampoline: it takes vector with interrupts off, pushes
// the interrupt frame on the current stack, dispatches it and returns
// through the frame.
func (d *Dispatcher) Entry(vector uint8, errCode uint32) {
	cpu := d.m.CPU
	kernel.Assert(desc.Lookup(d.m.Mem, cpu, vector).Present(), "idt gate present")

	r := &cpu.Regs
	f := Frame{
		DS:      r.DS,
		EDI:     r.EDI,
		ESI:     r.ESI,
		EBP:     r.EBP,
		EBX:     r.EBX,
		EDX:     r.EDX,
		ECX:     r.ECX,
		EAX:     r.EAX,
		IntNo:   uint32(vector),
		ErrCode: errCode,
		EIP:     r.EIP,
		CS:      r.CS,
		EFLAGS:  r.EFLAGS,
		UserESP: r.ESP,
		SS:      r.SS,
	}
	cpu.Cli()
	f.CurrESP = r.ESP - FrameSize
	f.Store(d.m.Mem, f.CurrESP)
	r.ESP = f.CurrESP

	d.Dispatch(&f)
	d.Return(&f)
}

// Return resumes from f. The general-purpose registers come from f; the
// segment and CPU-pushed values are popped from the stack f.CurrESP points
// at, which the scheduler may have switched to another process's stack.
func (d *Dispatcher) Return(f *Frame) {
	saved := ReadFrame(d.m.Mem, f.CurrESP)
	cs := desc.LookupSegment(d.m.Mem, d.m.CPU, uint16(saved.CS))
	kernel.Assert(cs.Present() && cs.Code(), "iret to a present code segment")
	kernel.Assert(cs.DPL() == uint16(saved.CS&3), "cs rpl == dpl")
	r := &d.m.CPU.Regs
	r.EDI, r.ESI, r.EBP = f.EDI, f.ESI, f.EBP
	r.EBX, r.EDX, r.ECX, r.EAX = f.EBX, f.EDX, f.ECX, f.EAX

	r.DS = saved.DS
	r.EIP = saved.EIP
	r.CS = saved.CS
	r.EFLAGS = saved.EFLAGS | hw.FlagReserved
	if saved.CS&3 != 0 {
		// Privilege change: iret also pops the outer stack
		r.ESP, r.SS = saved.UserESP, saved.SS
	} else {
		r.ESP = f.CurrESP + FrameSize
	}
}

// Dispatch classifies f by vector and routes it.
func (d *Dispatcher) Dispatch(f *Frame) {
	d.counts[uint8(f.IntNo)]++
	offset := uint32(d.offset)
	// The gate is matched first: a PIC remapped above it would otherwise
	// claim it as an exception
	switch {
	case f.IntNo == SyscallVector:
		d.syscall(f)
	case f.IntNo < offset:
		d.exception(f)
	case f.IntNo < offset+IRQLines:
		d.irq(f, uint8(f.IntNo-offset))
	default:
		fmt.Fprintf(d.console, "Unknown IRQ(%d - %d)\n", f.IntNo, f.ErrCode)
		d.log.Warn("unknown interrupt dropped", "vector", f.IntNo, "err", f.ErrCode)
	}
}

func (d *Dispatcher) currentPID() int {
	if d.sched == nil {
		return 0
	}
	return d.sched.CurrentPID()
}

func (d *Dispatcher) exception(f *Frame) {
	name := ExceptionName(f.IntNo)
	fmt.Fprintf(d.console, "[%d] %s: %d - %d\n", d.exceptions, name, f.IntNo, f.ErrCode)
	d.exceptions++
	fmt.Fprintf(d.console, "currently running process: %d\n", d.currentPID())
	fmt.Fprintf(d.console, "--- Printing intframe ---\n")
	f.Dump(d.console)
	if f.IntNo == PageFault {
		cpu := d.m.CPU
		code := bitfield.UnpackFaultCode(f.ErrCode)
		fmt.Fprintf(d.console, "\tcr2: %x\n", cpu.CR2)
		fmt.Fprintf(d.console, "\tcr3: %x\n\tkern_pgdir: %x\n", cpu.CR3, d.kernelDir)
		fmt.Fprintf(d.console, "\tpresent: %v write: %v user: %v\n", code.Present, code.Write, code.User)
	}
	d.log.Error("cpu exception", "vector", f.IntNo, "name", name, "eip", f.EIP, "err", f.ErrCode)
	kernel.Panicf("trap", "%s at eip %#x", name, f.EIP)
}

func (d *Dispatcher) irq(f *Frame, line uint8) {
	if h := d.handlers[line]; h != nil {
		h(f)
	} else {
		d.log.Warn("unhandled irq", "line", line)
	}
	AckPIC(d.m.Ports, line)
}

func (d *Dispatcher) timer(f *Frame) {
	d.ticks++
	if d.sched != nil {
		d.sched.Tick(f)
	}
}

func (d *Dispatcher) keyboardIRQ(*Frame) {
	ports := d.m.Ports
	status := ports.Inb(hw.PS2Status)
	b := ports.Inb(hw.PS2Data)
	// A mouse byte can be pending when the keyboard line fires
	if status&hw.PS2OutputFull != 0 && status&hw.PS2MouseData != 0 {
		d.log.Debug("mouse byte on keyboard irq dropped", "byte", b)
		return
	}
	if d.keyboard != nil {
		d.keyboard.HandleByte(b)
	}
}

func (d *Dispatcher) mouseIRQ(*Frame) {
	b := d.m.Ports.Inb(hw.PS2Data)
	if d.mouse != nil {
		d.mouse.HandleByte(b)
	}
}

func (d *Dispatcher) syscall(f *Frame) {
	if d.syscalls != nil {
		f.EAX = d.syscalls.Syscall(f.EAX, [5]uint32{f.EBX, f.ECX, f.EDX, f.ESI, f.EDI})
	}
	if d.sched != nil {
		d.sched.Tick(f)
	}
}

// PageFault raises a page fault for linear address va: CR2 is loaded before
// the exception is taken, as the MMU does.
func (d *Dispatcher) PageFault(va, code uint32) {
	d.m.CPU.CR2 = va
	d.Entry(PageFault, code)
}
