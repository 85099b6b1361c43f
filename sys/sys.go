// Package sys implements the system calls reachable through the int 0x80
// gate. The call number arrives in EAX and up to five arguments in EBX, ECX,
// EDX, ESI and EDI; the result goes back in EAX.
package sys

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/mrkct/experimental-os/kernel"
	"github.com/mrkct/experimental-os/mm/pmm"
	"github.com/mrkct/experimental-os/mm/vmm"
	"github.com/mrkct/experimental-os/proc"
)

// System call numbers
const (
	SysExit  = 1
	SysWrite = 2
	SysYield = 3 // reserved
)

// Stdout is the only stream SysWrite accepts.
const Stdout = 1

// WriteFailed is what SysWrite returns when the console rejects the bytes:
// -1 in the caller's EAX.
const WriteFailed = ^uint32(0)

// Table dispatches system calls on behalf of the running process.
type Table struct {
	sched   *proc.Scheduler
	vm      *vmm.Manager
	console io.Writer
	log     *slog.Logger
}

// New returns the system-call table. Output of SysWrite goes to console.
func New(sched *proc.Scheduler, vm *vmm.Manager, console io.Writer, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{sched: sched, vm: vm, console: console, log: log}
}

// Syscall runs call no. Unknown numbers do nothing and return 0.
func (t *Table) Syscall(no uint32, args [5]uint32) uint32 {
	switch no {
	case SysExit:
		return t.exit(args[0])
	case SysWrite:
		return t.write(args[0], args[1], args[2])
	case SysYield:
		return 0
	default:
		t.log.Debug("unknown syscall", "no", no, "pid", t.sched.CurrentPID())
		return 0
	}
}

func (t *Table) exit(code uint32) uint32 {
	cur := t.sched.Current()
	fmt.Fprintf(t.console, "process %d exited with code %d\n", cur.PID, int32(code))
	t.log.Info("process exited", "pid", cur.PID, "name", cur.Name, "code", int32(code))
	// The scheduler runs right after this call and moves past the process
	if err := t.sched.MarkDead(cur.PID); err != nil {
		kernel.Panic(err)
	}
	return 0
}

func (t *Table) write(fd, buf, length uint32) uint32 {
	kernel.Assert(fd == Stdout, "filedesc == 1")
	dir := t.sched.Current().Dir
	// The caller handed the kernel a pointer into nowhere
	if uint64(buf)+uint64(length) > 1<<32 {
		kernel.Panicf("sys", "write buffer %#x+%d wraps the address space", buf, length)
	}
	for page := uint64(buf) &^ (pmm.PageSize - 1); page < uint64(buf)+uint64(length); page += pmm.PageSize {
		if _, ok := t.vm.Translate(dir, uint32(page)); !ok {
			kernel.Panic(fmt.Errorf("%w: %#x", vmm.ErrNotMapped, page))
		}
	}

	chunk := make([]byte, pmm.PageSize)
	for done := uint32(0); done < length; {
		n := pmm.PageSize - (buf+done)%pmm.PageSize
		if n > length-done {
			n = length - done
		}
		if err := t.vm.Read(dir, buf+done, chunk[:n]); err != nil {
			kernel.Panic(err)
		}
		if _, err := t.console.Write(chunk[:n]); err != nil {
			t.log.Warn("console write failed", "pid", t.sched.CurrentPID(), "err", err)
			return WriteFailed
		}
		done += n
	}
	return 0
}
