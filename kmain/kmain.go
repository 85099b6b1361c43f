// Package kmain boots the kernel core on a hosted machine and is the context
// object every component is reached through. There is no package-level
// kernel state: two Kernels never share anything.
package kmain

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/mrkct/experimental-os/boot"
	"github.com/mrkct/experimental-os/config"
	"github.com/mrkct/experimental-os/desc"
	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/loader"
	"github.com/mrkct/experimental-os/mm/kheap"
	"github.com/mrkct/experimental-os/mm/pmm"
	"github.com/mrkct/experimental-os/mm/vmm"
	"github.com/mrkct/experimental-os/proc"
	"github.com/mrkct/experimental-os/sys"
	"github.com/mrkct/experimental-os/trap"
)

// KernelEntry is where the kernel image is linked; the boot process resumes
// here whenever it is switched back in.
const KernelEntry = 0x100000

// ErrNoModule is returned by ExecModule for a name the bootloader did not load.
var ErrNoModule = &kernel.Error{Module: "kmain", Message: "no such boot module"}

// Kernel is the booted kernel core.
type Kernel struct {
	Config  config.Config
	Machine *hw.Machine
	Modules []boot.LoadedModule

	Frames   *pmm.Allocator
	VM       *vmm.Manager
	Heap     *kheap.Heap
	Sched    *proc.Scheduler
	Traps    *trap.Dispatcher
	Syscalls *sys.Table

	// StackTop is the top of the boot process's kernel stack
	StackTop uint32

	console io.Writer
	log     *slog.Logger
	fatal   *kernel.Fatal

	line  []byte
	mouse int
}

// Boot brings up the core on a fresh machine described by info, in the order
// the hardware requires: descriptor tables, interrupt controllers, boot
// modules, then the memory managers and everything built on them. It leaves
// interrupts enabled with the boot process running.
func Boot(cfg config.Config, info boot.Info, console io.Writer, log *slog.Logger) (k *Kernel, err error) {
	if log == nil {
		log = slog.Default()
	}
	if console == nil {
		console = io.Discard
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	total := info.TotalMemory()
	if total == 0 {
		total = cfg.TotalMemory
	}
	if total < cfg.FreeMemoryStart || total > cfg.KernelSplit {
		return nil, fmt.Errorf("%w: %d bytes of memory reported", config.ErrInvalid, total)
	}

	defer func() {
		if v := recover(); v != nil {
			f, ok := kernel.AsFatal(v)
			if !ok {
				panic(v)
			}
			k, err = nil, f
		}
	}()

	m := hw.NewMachine(total)
	ba := boot.NewAllocator(cfg.FreeMemoryStart, total, log)

	gdt := ba.Alloc(desc.GDTEntries * desc.EntrySize)
	desc.LoadGDT(m.Mem, m.CPU, gdt, desc.FlatGDT())
	stubs := ba.Alloc(desc.IDTEntries * desc.StubSize)
	idt := ba.Alloc(desc.IDTEntries * desc.EntrySize)
	desc.LoadIDT(m.Mem, m.CPU, idt, desc.KernelGates(stubs))

	trap.InitPIC(m.Ports, cfg.IRQOffset)
	trap.InitTimer(m.Ports, cfg.TimerHz)

	mods := boot.LoadModules(ba, m.Mem, info.Modules)
	fmt.Fprintf(console, "Detected %d bytes of total memory\n", total)
	fmt.Fprintf(console, "Loaded %d boot modules\n", len(mods))

	// The frame table lives in boot memory, so the allocator reserves it
	// along with everything else below End
	ba.Alloc(pmm.TableSize(total))
	stack := ba.Alloc(cfg.KernelStackSize)

	pm := pmm.New(m.Mem, total, ba.End(), log)
	vm := vmm.New(pm, m.CPU, cfg.KernelSplit, log)
	dir, err := vm.BuildKernel(total)
	if err != nil {
		return nil, fmt.Errorf("kernel address space: %w", err)
	}
	vm.Load(dir)

	heap := kheap.New(pm, log)
	sched := proc.New(heap, vm, m.Mem, cfg.MaxProcesses, cfg.KernelStackSize, log)
	if err := sched.Init(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	k = &Kernel{
		Config:   cfg,
		Machine:  m,
		Modules:  mods,
		Frames:   pm,
		VM:       vm,
		Heap:     heap,
		Sched:    sched,
		StackTop: stack + cfg.KernelStackSize,
		console:  console,
		log:      log,
	}
	k.Traps = trap.New(m, trap.Config{
		IRQOffset:       cfg.IRQOffset,
		KernelDirectory: uint32(dir),
		Console:         console,
		Log:             log,
	})
	k.Syscalls = sys.New(sched, vm, console, log)
	k.Traps.SetScheduler(sched)
	k.Traps.SetSyscalls(k.Syscalls)
	k.Traps.SetKeyboard(trap.ByteSinkFunc(k.keyboard))
	k.Traps.SetMouse(trap.ByteSinkFunc(func(byte) { k.mouse++ }))

	r := &m.CPU.Regs
	r.ESP, r.EBP = k.StackTop, k.StackTop
	r.EIP = KernelEntry
	r.CS = desc.KernelCode
	r.DS, r.SS = desc.KernelData, desc.KernelData
	m.CPU.Sti()

	log.Info("kernel booted", "memory", total, "free_frames", pm.Stats().Free, "modules", len(mods))
	return k, nil
}

// guard runs fn the way the trap trampoline runs a handler: a kernel panic
// is printed and the CPU halted for good.
func (k *Kernel) guard(fn func()) (fatal *kernel.Fatal) {
	defer func() {
		if v := recover(); v != nil {
			f, ok := kernel.AsFatal(v)
			if !ok {
				panic(v)
			}
			k.halt(f)
			fatal = f
		}
	}()
	fn()
	return nil
}

func (k *Kernel) halt(f *kernel.Fatal) {
	fmt.Fprintln(k.console, f.Error())
	k.log.Error("kernel panic", "file", f.File, "line", f.Line, "err", f.Err)
	k.Machine.CPU.Cli()
	k.Machine.CPU.Halt()
	k.fatal = f
}

// Halted reports whether a kernel panic stopped the machine.
func (k *Kernel) Halted() bool {
	return k.Machine.CPU.Halted()
}

// Panic returns the condition that halted the machine, if any.
func (k *Kernel) Panic() *kernel.Fatal {
	return k.fatal
}

// Console returns the writer kernel output goes to.
func (k *Kernel) Console() io.Writer {
	return k.console
}

// Interrupt delivers vector to the CPU. Once halted the machine ignores it.
func (k *Kernel) Interrupt(vector uint8, errCode uint32) {
	if k.Halted() {
		return
	}
	k.guard(func() { k.Traps.Entry(vector, errCode) })
}

// deliver services device lines until none is pending.
func (k *Kernel) deliver() {
	for {
		v, ok := k.Machine.NextInterrupt()
		if !ok {
			return
		}
		k.Interrupt(v, 0)
	}
}

// Timer fires the PIT once.
func (k *Kernel) Timer() {
	k.Machine.TimerFire()
	k.deliver()
}

// Run fires the PIT n times or until the machine halts.
func (k *Kernel) Run(n int) {
	for i := 0; i < n && !k.Halted(); i++ {
		k.Timer()
	}
}

// Key types b on the keyboard.
func (k *Kernel) Key(b byte) {
	k.Machine.KeyPress(b)
	k.deliver()
}

// Mouse feeds one mouse packet byte.
func (k *Kernel) Mouse(b byte) {
	k.Machine.MouseByte(b)
	k.deliver()
}

// MousePackets returns the number of mouse bytes the kernel has consumed.
func (k *Kernel) MousePackets() int {
	return k.mouse
}

// PageFault reports a fault at va with the given error code.
func (k *Kernel) PageFault(va, code uint32) {
	if k.Halted() {
		return
	}
	k.guard(func() { k.Traps.PageFault(va, code) })
}

// Syscall issues system call no from the running process with up to five
// arguments in EBX, ECX, EDX, ESI and EDI, and returns what the process
// finds in EAX when it next runs.
func (k *Kernel) Syscall(no uint32, args ...uint32) uint32 {
	kernel.Assert(len(args) <= 5, "len(args) <= 5")
	var a [5]uint32
	copy(a[:], args)

	r := &k.Machine.CPU.Regs
	r.EAX = no
	r.EBX, r.ECX, r.EDX, r.ESI, r.EDI = a[0], a[1], a[2], a[3], a[4]

	pid := k.Sched.CurrentPID()
	k.Interrupt(trap.SyscallVector, 0)
	if k.Halted() {
		return 0
	}
	if k.Sched.CurrentPID() == pid {
		return r.EAX
	}
	// The scheduler switched away; the result is in the saved context
	if p, ok := k.Sched.Lookup(proc.PID(pid)); ok {
		return p.Regs.EAX
	}
	return 0
}

// Exec creates a process running the ELF image in its own address space.
// On failure nothing the attempt allocated is left behind.
func (k *Kernel) Exec(name string, image []byte) (pid proc.PID, err error) {
	pid = -1
	if f := k.guard(func() { pid, err = k.exec(name, image) }); f != nil {
		return -1, f
	}
	return pid, err
}

func (k *Kernel) exec(name string, image []byte) (proc.PID, error) {
	dir, err := k.VM.CreateDirectory()
	if err != nil {
		return -1, fmt.Errorf("exec %s: %w", name, err)
	}
	entry, err := loader.Load(k.VM, dir, image, k.log)
	if err != nil {
		k.VM.Release(dir)
		return -1, fmt.Errorf("exec %s: %w", name, err)
	}
	pid, err := k.Sched.Create(name, entry, dir)
	if err != nil {
		k.VM.Release(dir)
		return -1, fmt.Errorf("exec %s: %w", name, err)
	}
	k.log.Info("process started", "pid", pid, "name", name, "entry", entry)
	return pid, nil
}

// ExecModule runs the boot module called name.
func (k *Kernel) ExecModule(name string) (proc.PID, error) {
	mod, ok := boot.Find(k.Modules, name)
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrNoModule, name)
	}
	return k.Exec(name, mod.Bytes(k.Machine.Mem))
}
