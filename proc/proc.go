// Package proc is the round-robin process scheduler. Processes live in a
// fixed table of slots; the live ones form a ring of slot indices that the
// scheduler walks on every tick, reclaiming dead processes as it passes them.
package proc

import (
	"log/slog"

	"github.com/mrkct/experimental-os/desc"
	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/kheap"
	"github.com/mrkct/experimental-os/mm/vmm"
	"github.com/mrkct/experimental-os/trap"
)

var (
	// ErrProcessLimit is returned by Create when every slot is in use.
	ErrProcessLimit = &kernel.Error{Module: "proc", Message: "process limit reached"}

	// ErrNoMemory is returned by Create when the name or kernel stack could
	// not be allocated.
	ErrNoMemory = &kernel.Error{Module: "proc", Message: "out of memory"}

	// ErrNoProcess is returned when no live process has the given PID.
	ErrNoProcess = &kernel.Error{Module: "proc", Message: "no such process"}
)

// InitialEFLAGS is loaded by the first return into a new process: reserved
// bit 1, IF and PF.
const InitialEFLAGS = 0x206

// BootName is the name of the process the kernel itself runs as.
const BootName = "Monitor"

// Scheduler owns the process table and the ring of live processes.
type Scheduler struct {
	slots     []process
	running   int
	nextPID   PID
	stackSize uint32

	heap *kheap.Heap
	vm   *vmm.Manager
	mem  *hw.Memory
	log  *slog.Logger
}

// New returns a scheduler with maxProcesses slots giving each process a
// kernel stack of stackSize bytes.
func New(heap *kheap.Heap, vm *vmm.Manager, mem *hw.Memory, maxProcesses int, stackSize uint32, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	kernel.Assert(maxProcesses > 0, "maxProcesses > 0")
	kernel.Assert(stackSize >= trap.FrameSize, "stackSize >= sizeof(intframe)")
	return &Scheduler{
		slots:     make([]process, maxProcesses),
		running:   -1,
		stackSize: stackSize,
		heap:      heap,
		vm:        vm,
		mem:       mem,
		log:       log,
	}
}

func (s *Scheduler) free() int {
	for i := range s.slots {
		if s.slots[i].state == Unused {
			return i
		}
	}
	return -1
}

// Init installs the kernel as the boot process, the only member of the ring.
// Its registers are filled in the first time it is switched out.
func (s *Scheduler) Init() error {
	kernel.Assert(s.running == -1, "scheduler not initialised")
	name, err := s.heap.AllocString(BootName)
	if err != nil {
		return ErrNoMemory
	}
	s.slots[0] = process{
		pid:   s.nextPID,
		name:  name,
		state: Running,
		dir:   s.vm.KernelDirectory(),
		next:  0,
	}
	s.nextPID++
	s.running = 0
	s.log.Info("scheduler ready", "pid", 0, "name", BootName)
	return nil
}

// Create adds a process that starts executing at entry in address space dir
// the first time the scheduler switches to it. It runs right after the
// current process.
func (s *Scheduler) Create(name string, entry uint32, dir vmm.Directory) (PID, error) {
	kernel.Assert(s.running != -1, "scheduler initialised")
	i := s.free()
	if i < 0 {
		return -1, ErrProcessLimit
	}

	nameAddr, err := s.heap.AllocString(name)
	if err != nil {
		return -1, ErrNoMemory
	}
	stack, err := s.heap.Alloc(s.stackSize)
	if err != nil {
		s.heap.Free(nameAddr)
		return -1, ErrNoMemory
	}

	// Fabricate the frame a trap would have left on the stack, so the first
	// switch to the process looks like a return from an interrupt
	esp := stack + s.stackSize - trap.FrameSize
	f := trap.Frame{
		DS:     desc.KernelData,
		EIP:    entry,
		CS:     desc.KernelCode,
		EFLAGS: InitialEFLAGS,
	}
	f.Store(s.mem, esp)

	p := &s.slots[i]
	*p = process{
		pid:   s.nextPID,
		name:  nameAddr,
		state: Ready,
		regs:  Registers{ESP: esp, EBP: esp},
		dir:   dir,
		stack: stack,
		next:  s.slots[s.running].next,
	}
	s.slots[s.running].next = i
	s.nextPID++

	s.log.Debug("process created", "pid", p.pid, "name", name, "entry", entry, "dir", uint32(dir), "slot", i)
	return p.pid, nil
}

// reap returns everything the process in slot i owns and marks the slot
// unused. The slot must already be unlinked from the ring.
func (s *Scheduler) reap(i int) {
	p := &s.slots[i]
	s.log.Debug("process reaped", "pid", p.pid, "slot", i)
	s.heap.Free(p.name)
	if p.stack != 0 {
		s.heap.Free(p.stack)
	}
	if p.dir != s.vm.KernelDirectory() {
		s.vm.Release(p.dir)
	}
	*p = process{state: Unused}
}

// Tick is the scheduling decision point, called from the trap path with the
// interrupted context in f. It switches f to the next live process in ring
// order, reclaiming dead processes it walks past.
func (s *Scheduler) Tick(f *trap.Frame) {
	old := s.running
	if s.slots[old].next == old {
		return
	}

	next := s.slots[old].next
	for next != old && s.slots[next].state == Dead {
		after := s.slots[next].next
		s.reap(next)
		next = after
	}
	s.slots[old].next = next
	if next == old {
		return
	}

	o, n := &s.slots[old], &s.slots[next]
	// An exited process stays dead until the next walk reclaims it
	if o.state == Running {
		o.state = Ready
	}
	n.state = Running

	o.regs = Registers{
		EDI: f.EDI, ESI: f.ESI, EBP: f.EBP, ESP: f.CurrESP,
		EBX: f.EBX, EDX: f.EDX, ECX: f.ECX, EAX: f.EAX,
	}
	f.EDI, f.ESI, f.EBP, f.CurrESP = n.regs.EDI, n.regs.ESI, n.regs.EBP, n.regs.ESP
	f.EBX, f.EDX, f.ECX, f.EAX = n.regs.EBX, n.regs.EDX, n.regs.ECX, n.regs.EAX

	s.running = next
	if o.dir != n.dir {
		s.vm.Load(n.dir)
	}
	s.log.Debug("context switch", "from", o.pid, "to", n.pid)
}

func (s *Scheduler) find(pid PID) int {
	for i := range s.slots {
		if s.slots[i].state != Unused && s.slots[i].pid == pid {
			return i
		}
	}
	return -1
}

// MarkDead flags the process for reclamation. It stays in the ring until a
// later Tick walks past it.
func (s *Scheduler) MarkDead(pid PID) error {
	i := s.find(pid)
	if i < 0 {
		return ErrNoProcess
	}
	s.slots[i].state = Dead
	s.log.Debug("process marked dead", "pid", pid)
	return nil
}

func (s *Scheduler) info(i int) Info {
	p := &s.slots[i]
	return Info{
		PID:   p.pid,
		Name:  s.heap.ReadString(p.name),
		State: p.state,
		Regs:  p.regs,
		Dir:   p.dir,
		Stack: p.stack,
	}
}

// Current returns the running process.
func (s *Scheduler) Current() Info {
	return s.info(s.running)
}

// CurrentPID returns the PID of the running process.
func (s *Scheduler) CurrentPID() int {
	return int(s.slots[s.running].pid)
}

// Lookup returns the live process with the given PID.
func (s *Scheduler) Lookup(pid PID) (Info, bool) {
	i := s.find(pid)
	if i < 0 {
		return Info{}, false
	}
	return s.info(i), true
}

// List returns the ring in scheduling order, starting at the running process.
func (s *Scheduler) List() []Info {
	var list []Info
	i := s.running
	for {
		list = append(list, s.info(i))
		i = s.slots[i].next
		if i == s.running {
			return list
		}
	}
}

// Count returns the number of processes in the ring.
func (s *Scheduler) Count() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].state != Unused {
			n++
		}
	}
	return n
}
