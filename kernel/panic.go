package kernel

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Fatal is the value a kernel panic unwinds with. A fatal condition is an
// invariant violation (misaligned mapping, freeing a referenced frame, a CPU
// exception); there is no recovery path. The only code that recovers a Fatal
// is the trap trampoline, which prints it and halts the CPU.
type Fatal struct {
	File string
	Line int
	Err  error
}

// Error implements the error interface using the kernel's panic line format.
func (f *Fatal) Error() string {
	return fmt.Sprintf("panic: %s at line %d. %v", f.File, f.Line, f.Err)
}

// Unwrap returns the condition that caused the panic.
func (f *Fatal) Unwrap() error {
	return f.Err
}

// Panic stops the kernel with err, recording the caller's file and line.
func Panic(err error) {
	panicAt(2, err)
}

// Panicf is Panic with a formatted message.
func Panicf(module, format string, args ...any) {
	panicAt(2, &Error{Module: module, Message: fmt.Sprintf(format, args...)})
}

// Assert panics when cond is false. expr is the condition as written and is
// reported as "<expr> == false".
func Assert(cond bool, expr string) {
	if !cond {
		panicAt(2, &Error{Module: "kassert", Message: expr + " == false"})
	}
}

func panicAt(skip int, err error) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "???"
	}
	panic(&Fatal{File: filepath.Base(file), Line: line, Err: err})
}

// AsFatal reports whether a recovered value is a kernel panic.
func AsFatal(v any) (*Fatal, bool) {
	f, ok := v.(*Fatal)
	return f, ok
}
