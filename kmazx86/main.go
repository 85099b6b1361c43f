// Command kmazx86 boots the kernel core on a hosted i386 machine, loads the
// given files as boot modules and runs the timer, optionally with the
// terminal attached to the machine's keyboard.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-tty"

	"github.com/mrkct/experimental-os/boot"
	"github.com/mrkct/experimental-os/config"
	"github.com/mrkct/experimental-os/fbview"
	"github.com/mrkct/experimental-os/klog"
	"github.com/mrkct/experimental-os/kmain"
)

var configFlag = flag.String("c", "", "kernel configuration file (JSON)")
var ticksFlag = flag.Int("t", 100, "timer ticks to run before exiting")
var execFlag = flag.String("x", "", "comma separated boot modules to start as processes")
var frameMapFlag = flag.String("framemap", "", "write the frame table as a PNG image to this path")
var spaceMapFlag = flag.String("spacemap", "", "write the kernel address space as a PNG image to this path")
var interactiveFlag = flag.Bool("i", false, "attach the terminal to the keyboard and run the monitor")
var levelFlag = flag.String("v", "", "log level override: DEBUG, INFO, WARN or ERROR")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: kmazx86 [flags] [module...]\n")
	fmt.Fprintf(os.Stderr, "Boots the kernel with each file loaded as a boot module\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.Load(*configFlag); err != nil {
			log.Fatalf("unable to load config: %v", err)
		}
	}
	if *levelFlag != "" {
		cfg.LogLevel = *levelFlag
	}
	logger, err := klog.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("unable to open log: %v", err)
	}

	mods, err := readModules(append(cfg.Modules, flag.Args()...))
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *interactiveFlag {
		os.Exit(interactive(cfg, mods, logger))
	}

	k, err := kmain.Boot(cfg, boot.NewInfo(cfg.TotalMemory, mods...), os.Stdout, logger)
	if err != nil {
		log.Fatalf("boot failed: %v", err)
	}
	start(k, *execFlag)
	k.Run(*ticksFlag)
	k.Command("ps")

	if err := writeMaps(k); err != nil {
		log.Fatalf("%v", err)
	}
	if k.Halted() {
		os.Exit(1)
	}
}

func readModules(paths []string) ([]boot.Module, error) {
	var mods []boot.Module
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("unable to read module: %w", err)
		}
		mods = append(mods, boot.Module{Name: filepath.Base(p), Data: data})
	}
	return mods, nil
}

func start(k *kmain.Kernel, names string) {
	if names == "" {
		return
	}
	for _, name := range strings.Split(names, ",") {
		pid, err := k.ExecModule(name)
		if err != nil {
			slog.Error("unable to start module", "module", name, "err", err)
			continue
		}
		slog.Info("module started", "module", name, "pid", pid)
	}
}

func writeMaps(k *kmain.Kernel) error {
	if *frameMapFlag != "" {
		if err := fbview.RenderFrames(k.Frames).SavePNG(*frameMapFlag); err != nil {
			return fmt.Errorf("unable to write frame map: %w", err)
		}
	}
	if *spaceMapFlag != "" {
		dc := fbview.RenderAddressSpace(k.VM, k.VM.KernelDirectory())
		if err := dc.SavePNG(*spaceMapFlag); err != nil {
			return fmt.Errorf("unable to write address space map: %w", err)
		}
	}
	return nil
}

// crlf turns line feeds into the carriage return, line feed pairs a raw
// terminal needs.
type crlf struct {
	w io.Writer
}

func (c crlf) Write(p []byte) (int, error) {
	_, err := c.w.Write([]byte(strings.ReplaceAll(string(p), "\n", "\r\n")))
	return len(p), err
}

// interactive runs the machine with the terminal as its keyboard until the
// user types ctrl-D or the kernel halts.
func interactive(cfg config.Config, mods []boot.Module, logger *slog.Logger) int {
	t, err := tty.Open()
	if err != nil {
		log.Fatalf("unable to open terminal: %v", err)
	}
	defer t.Close()
	restore := t.MustRaw()
	defer restore()

	console := crlf{t.Output()}
	k, err := kmain.Boot(cfg, boot.NewInfo(cfg.TotalMemory, mods...), console, logger)
	if err != nil {
		fmt.Fprintf(console, "boot failed: %v\n", err)
		return 1
	}
	start(k, *execFlag)
	k.Prompt()

	keys := make(chan rune)
	go func() {
		defer close(keys)
		for {
			r, err := t.ReadRune()
			if err != nil {
				return
			}
			keys <- r
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(cfg.TimerHz))
	defer ticker.Stop()
	for !k.Halted() {
		select {
		case <-ticker.C:
			k.Timer()
		case r, ok := <-keys:
			if !ok || r == 0x04 {
				fmt.Fprintln(console)
				return 0
			}
			if r < 0x80 {
				k.Key(byte(r))
			}
		}
	}
	return 1
}
