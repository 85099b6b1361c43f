package proc

import (
	"errors"
	"testing"

	"github.com/mrkct/experimental-os/desc"
	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/mm/kheap"
	"github.com/mrkct/experimental-os/mm/pmm"
	"github.com/mrkct/experimental-os/mm/vmm"
	"github.com/mrkct/experimental-os/trap"
)

const (
	testMemory = 16 << 20
	stackSize  = 16 << 10
)

type env struct {
	cpu   *hw.CPU
	mem   *hw.Memory
	pm    *pmm.Allocator
	vm    *vmm.Manager
	heap  *kheap.Heap
	sched *Scheduler
}

func newEnv(t *testing.T, slots int, stack uint32) *env {
	t.Helper()
	e := &env{cpu: hw.NewCPU(), mem: hw.NewMemory(testMemory)}
	e.pm = pmm.New(e.mem, testMemory, 1<<20, nil)
	e.vm = vmm.New(e.pm, e.cpu, 1<<30, nil)
	kdir, err := e.vm.BuildKernel(testMemory)
	if err != nil {
		t.Fatal(err)
	}
	e.vm.Load(kdir)
	e.heap = kheap.New(e.pm, nil)
	e.sched = New(e.heap, e.vm, e.mem, slots, stack, nil)
	if err := e.sched.Init(); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) create(t *testing.T, name string, entry uint32, ownDir bool) PID {
	t.Helper()
	dir := e.vm.KernelDirectory()
	if ownDir {
		var err error
		if dir, err = e.vm.CreateDirectory(); err != nil {
			t.Fatal(err)
		}
	}
	pid, err := e.sched.Create(name, entry, dir)
	if err != nil {
		t.Fatalf("Create(%q) error: %v", name, err)
	}
	return pid
}

func pids(list []Info) []PID {
	var out []PID
	for _, p := range list {
		out = append(out, p.PID)
	}
	return out
}

func equalPIDs(a, b []PID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInit(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	cur := e.sched.Current()
	if cur.PID != 0 || cur.Name != BootName || cur.State != Running {
		t.Errorf("Current() = %+v", cur)
	}
	if cur.Dir != e.vm.KernelDirectory() {
		t.Errorf("boot directory = %#x, want kernel's", cur.Dir)
	}
	if e.sched.Count() != 1 {
		t.Errorf("Count() = %d, want 1", e.sched.Count())
	}
}

func TestSingleProcessTickIsNoop(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	f := trap.Frame{EAX: 1, EBX: 2, CurrESP: 0x7000, EIP: 0x1000}
	before := f
	loads := e.cpu.CR3Loads()
	cur := e.sched.Current()

	for i := 0; i < 3; i++ {
		e.sched.Tick(&f)
	}
	if f != before {
		t.Errorf("frame = %+v, want %+v", f, before)
	}
	if e.sched.Current() != cur || e.cpu.CR3Loads() != loads {
		t.Error("Tick changed the running process or the directory")
	}
}

func TestCreateFabricatesFrame(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	pid := e.create(t, "hello", 0x40001000, false)
	p, ok := e.sched.Lookup(pid)
	if !ok {
		t.Fatal("Lookup() failed")
	}
	if p.Name != "hello" || p.State != Ready || p.PID != 1 {
		t.Errorf("Lookup() = %+v", p)
	}
	if p.Regs.ESP != p.Stack+stackSize-trap.FrameSize || p.Regs.EBP != p.Regs.ESP {
		t.Errorf("ESP %#x EBP %#x, stack %#x", p.Regs.ESP, p.Regs.EBP, p.Stack)
	}
	f := trap.ReadFrame(e.mem, p.Regs.ESP)
	want := trap.Frame{DS: desc.KernelData, EIP: 0x40001000, CS: desc.KernelCode, EFLAGS: InitialEFLAGS}
	if f != want {
		t.Errorf("initial frame = %+v, want %+v", f, want)
	}
}

func TestCreateInsertsAfterRunning(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	a := e.create(t, "a", 0x1000, false)
	b := e.create(t, "b", 0x2000, false)
	if got, want := pids(e.sched.List()), []PID{0, b, a}; !equalPIDs(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRoundRobinVisitsEveryProcess(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	for _, name := range []string{"a", "b", "c"} {
		e.create(t, name, 0x1000, false)
	}
	order := pids(e.sched.List())

	var f trap.Frame
	var visited []PID
	for i := 0; i < len(order); i++ {
		e.sched.Tick(&f)
		visited = append(visited, e.sched.Current().PID)
	}
	want := append(append([]PID{}, order[1:]...), order[0])
	if !equalPIDs(visited, want) {
		t.Errorf("visited %v, want %v", visited, want)
	}
	running := 0
	for _, p := range e.sched.List() {
		if p.State == Running {
			running++
		}
	}
	if running != 1 {
		t.Errorf("%d processes running", running)
	}
}

func TestContextFidelity(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	b := e.create(t, "b", 0x1000, false)

	saved := trap.Frame{EDI: 1, ESI: 2, EBP: 3, CurrESP: 0x9000, EBX: 5, EDX: 6, ECX: 7, EAX: 8}
	f := saved
	e.sched.Tick(&f)
	if e.sched.CurrentPID() != int(b) {
		t.Fatalf("running %d, want %d", e.sched.CurrentPID(), b)
	}
	bInfo, _ := e.sched.Lookup(b)
	if f.CurrESP != bInfo.Regs.ESP || f.EBP != bInfo.Regs.ESP || f.EAX != 0 {
		t.Errorf("frame after switch in = %+v", f)
	}

	// b runs and clobbers every register
	f.EDI, f.ESI, f.EBX, f.EDX, f.ECX, f.EAX = 0xb1, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6
	e.sched.Tick(&f)
	if f != saved {
		t.Errorf("frame when 0 runs again = %+v, want %+v", f, saved)
	}
	bInfo, _ = e.sched.Lookup(b)
	if bInfo.Regs.EAX != 0xb6 || bInfo.State != Ready {
		t.Errorf("b after switch out = %+v", bInfo)
	}
}

func TestDirectorySwitch(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	pid := e.create(t, "user", 0x40000000, true)
	p, _ := e.sched.Lookup(pid)

	var f trap.Frame
	e.sched.Tick(&f)
	if e.cpu.CR3 != uint32(p.Dir) || e.vm.Current() != p.Dir {
		t.Errorf("CR3 = %#x, want %#x", e.cpu.CR3, p.Dir)
	}
	e.sched.Tick(&f)
	if e.cpu.CR3 != uint32(e.vm.KernelDirectory()) {
		t.Errorf("CR3 = %#x, want the kernel directory", e.cpu.CR3)
	}
}

func TestDeadProcessReclaimed(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	baseline := e.pm.Stats()

	a := e.create(t, "a", 0x1000, true)
	if err := e.vm.AllocRegion(mustLookup(t, e, a).Dir, 0x40000000, 3*pmm.PageSize, vmm.Present|vmm.User); err != nil {
		t.Fatal(err)
	}
	b := e.create(t, "b", 0x2000, false)
	if err := e.sched.MarkDead(b); err != nil {
		t.Fatal(err)
	}
	if e.sched.Count() != 3 {
		t.Fatalf("Count() = %d, dead process left the ring early", e.sched.Count())
	}

	var f trap.Frame
	e.sched.Tick(&f)
	if e.sched.CurrentPID() != int(a) {
		t.Errorf("running %d, want %d (dead %d skipped)", e.sched.CurrentPID(), a, b)
	}
	if _, ok := e.sched.Lookup(b); ok {
		t.Error("dead process still in the table")
	}

	// a exits: it must stay dead, not be demoted to ready
	e.sched.MarkDead(a)
	e.sched.Tick(&f)
	if e.sched.CurrentPID() != 0 {
		t.Fatalf("running %d, want 0", e.sched.CurrentPID())
	}
	if p, _ := e.sched.Lookup(a); p.State != Dead {
		t.Errorf("exited process state = %v, want dead", p.State)
	}

	e.sched.Tick(&f)
	if e.sched.Count() != 1 || e.sched.CurrentPID() != 0 {
		t.Errorf("Count() = %d, running %d", e.sched.Count(), e.sched.CurrentPID())
	}
	if got := e.pm.Stats(); got != baseline {
		t.Errorf("Stats() after reclaim = %+v, want %+v", got, baseline)
	}
}

func mustLookup(t *testing.T, e *env, pid PID) Info {
	t.Helper()
	p, ok := e.sched.Lookup(pid)
	if !ok {
		t.Fatalf("Lookup(%d) failed", pid)
	}
	return p
}

func TestSlotReuse(t *testing.T) {
	e := newEnv(t, 2, stackSize)
	a := e.create(t, "a", 0x1000, false)
	if _, err := e.sched.Create("b", 0x1000, e.vm.KernelDirectory()); !errors.Is(err, ErrProcessLimit) {
		t.Fatalf("Create() error = %v, want ErrProcessLimit", err)
	}
	e.sched.MarkDead(a)
	var f trap.Frame
	e.sched.Tick(&f)

	c := e.create(t, "c", 0x1000, false)
	if c == a {
		t.Errorf("PID %d reused", c)
	}
}

func TestCreateOutOfMemory(t *testing.T) {
	e := newEnv(t, 64, testMemory)
	before := e.pm.Stats()
	_, err := e.sched.Create("big", 0x1000, e.vm.KernelDirectory())
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Create() error = %v, want ErrNoMemory", err)
	}
	if e.pm.Stats() != before {
		t.Errorf("name leaked: %+v -> %+v", before, e.pm.Stats())
	}
	if e.sched.Count() != 1 {
		t.Errorf("Count() = %d", e.sched.Count())
	}
}

func TestMarkDeadUnknown(t *testing.T) {
	e := newEnv(t, 64, stackSize)
	if err := e.sched.MarkDead(99); !errors.Is(err, ErrNoProcess) {
		t.Errorf("MarkDead(99) error = %v, want ErrNoProcess", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Unused: "unused", Ready: "ready", Running: "running", Waiting: "waiting", Dead: "dead"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
