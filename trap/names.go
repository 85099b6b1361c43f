package trap

// SyscallVector is the software interrupt used for system calls.
const SyscallVector = 0x80

// PageFault is the exception vector reporting a translation failure.
const PageFault = 14

var exceptionNames = [...]string{
	"Divide-by-zero Error",
	"Debug",
	"Non-maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"Bound Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack-Segment Fault",
	"General Protection Fault",
	"Page Fault",
	"[Intel Reserved]",
	"x87 Floating-Point Exception",
	"Alignment Check",
	"Machine Check",
	"SIMD Floating-Point Exception",
	"Virtualization Exception",
	"[Intel Reserved]",
	"Security Exception",
	"[Intel Reserved]",
	"Triple Fault",
	"FPU Error Interrupt",
}

// ExceptionName returns the Intel name of vector.
func ExceptionName(vector uint32) string {
	switch {
	case vector < uint32(len(exceptionNames)):
		return exceptionNames[vector]
	case vector == SyscallVector:
		return "System Call"
	default:
		return "Unknown Interrupt"
	}
}
