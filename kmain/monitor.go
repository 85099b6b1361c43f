package kmain

import (
	"fmt"
	"strings"

	"github.com/mrkct/experimental-os/boot"
)

// MaxLine is the longest command the monitor accepts.
const MaxLine = 1024

type command struct {
	name string
	help string
	run  func(k *Kernel, args []string)
}

var commands []command

func init() {
	commands = []command{
		{"help", "Displays all available commands with their descriptions", (*Kernel).help},
		{"ticks", "Displays how many timer ticks have occurred since boot", (*Kernel).ticks},
		{"system", "Displays various info about the system", (*Kernel).system},
		{"echo", "Writes all the argument again", (*Kernel).echo},
		{"ls", "Lists the boot modules", (*Kernel).ls},
		{"cat", "Prints the content of a boot module", (*Kernel).cat},
		{"run", "Runs a program", (*Kernel).run},
		{"ps", "Shows all the currently running processes in order of execution", (*Kernel).ps},
	}
}

// Prompt prints the monitor prompt.
func (k *Kernel) Prompt() {
	fmt.Fprint(k.console, "> ")
}

// keyboard is the line editor of the monitor, fed one byte per keyboard
// interrupt.
func (k *Kernel) keyboard(b byte) {
	switch b {
	case '\r', '\n':
		fmt.Fprint(k.console, "\n")
		line := string(k.line)
		k.line = k.line[:0]
		if line != "" && !k.Command(line) {
			fmt.Fprintln(k.console, "No commands with that name")
		}
		k.Prompt()
	case '\b', 0x7f:
		if len(k.line) > 0 {
			k.line = k.line[:len(k.line)-1]
			fmt.Fprint(k.console, "\b")
		}
	default:
		fmt.Fprintf(k.console, "%c", b)
		k.line = append(k.line, b)
		if len(k.line) == MaxLine-1 {
			k.line = k.line[:0]
			fmt.Fprintln(k.console, "\nYou can't have commands THAT long")
			k.Prompt()
		}
	}
}

// Command runs one monitor command line and reports whether the command
// exists.
func (k *Kernel) Command(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	for _, c := range commands {
		if c.name == args[0] {
			c.run(k, args)
			return true
		}
	}
	return false
}

func (k *Kernel) help([]string) {
	fmt.Fprintln(k.console, "Here is a list of all available commands:")
	for _, c := range commands {
		fmt.Fprintf(k.console, "%s - %s\n", c.name, c.help)
	}
}

func (k *Kernel) ticks([]string) {
	fmt.Fprintf(k.console, "%d\n", k.Traps.Ticks())
}

func (k *Kernel) system([]string) {
	st := k.Frames.Stats()
	fmt.Fprintf(k.console, "Detected memory: %d MB\n", k.Machine.Mem.Size()/1024/1024)
	fmt.Fprintf(k.console, "Frames: %d total, %d free, %d allocated, %d reserved\n",
		st.Total, st.Free, st.Allocated, st.Reserved)
}

func (k *Kernel) echo(args []string) {
	fmt.Fprintln(k.console, strings.Join(args[1:], " "))
}

func (k *Kernel) ls([]string) {
	for _, m := range k.Modules {
		fmt.Fprintf(k.console, "%s\t%d\n", m.Name, m.Size)
	}
}

func (k *Kernel) cat(args []string) {
	for _, name := range args[1:] {
		m, ok := boot.Find(k.Modules, name)
		if !ok {
			fmt.Fprintf(k.console, "could not open %s\n", name)
			continue
		}
		k.console.Write(m.Bytes(k.Machine.Mem))
	}
}

func (k *Kernel) run(args []string) {
	for _, name := range args[1:] {
		pid, err := k.ExecModule(name)
		if err != nil {
			fmt.Fprintf(k.console, "an error happened while opening %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(k.console, "started %s as process %d\n", name, pid)
	}
}

func (k *Kernel) ps([]string) {
	fmt.Fprintln(k.console, "Running processes: ")
	for i, p := range k.Sched.List() {
		if i == 0 {
			fmt.Fprintf(k.console, "%d: %s (running)\n", p.PID, p.Name)
			continue
		}
		fmt.Fprintf(k.console, "%d: %s\n", p.PID, p.Name)
	}
}
