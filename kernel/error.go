// Package kernel contains the error types shared by every component of the
// core: recoverable errors tagged with the module that produced them and the
// fatal conditions that stop the machine.
package kernel

// Error describes a recoverable kernel error. Callers compare against the
// sentinel values exported by each module with errors.Is.
type Error struct {
	// Module is the component that produced the error (pmm, vmm, proc, ...).
	Module string

	// Message is a human-readable description of the error.
	Message string
}

// Error implements the error interface.
func (err *Error) Error() string {
	return err.Module + ": " + err.Message
}
