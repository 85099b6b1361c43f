package hw

// EFLAGS and CR0 bits the kernel core touches
const (
	FlagReserved = 0x2   // bit 1 of EFLAGS always reads as 1
	FlagIF       = 0x200 // interrupt enable

	CR0PE = 0x00000001 // protected mode
	CR0PG = 0x80000000 // paging
)

// Registers is the CPU register file.
type Registers struct {
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32

	EIP    uint32
	CS     uint32
	EFLAGS uint32
	SS     uint32
	DS     uint32
}

// DescriptorRegister is the value loaded by lgdt/lidt.
type DescriptorRegister struct {
	Base  uint32
	Limit uint16
}

// CPU is the control state of the single processor.
type CPU struct {
	Regs Registers

	CR0 uint32
	CR2 uint32 // faulting linear address of the last page fault
	CR3 uint32 // physical address of the active page directory

	GDTR DescriptorRegister
	IDTR DescriptorRegister

	cr3Loads int
	halted   bool
}

// NewCPU returns a CPU in the state the bootloader leaves it: protected
// mode on, paging off, interrupts disabled.
func NewCPU() *CPU {
	return &CPU{
		Regs: Registers{EFLAGS: FlagReserved},
		CR0:  CR0PE,
	}
}

// LoadCR3 installs pa as the translation root and flushes the TLB.
func (c *CPU) LoadCR3(pa uint32) {
	c.CR3 = pa
	c.cr3Loads++
}

// CR3Loads returns how many times CR3 has been written.
func (c *CPU) CR3Loads() int {
	return c.cr3Loads
}

// EnablePaging sets CR0.PG and CR0.PE.
func (c *CPU) EnablePaging() {
	c.CR0 |= CR0PG | CR0PE
}

// PagingEnabled reports whether CR0.PG is set.
func (c *CPU) PagingEnabled() bool {
	return c.CR0&CR0PG != 0
}

// Cli clears the interrupt flag.
func (c *CPU) Cli() {
	c.Regs.EFLAGS &^= FlagIF
}

// Sti sets the interrupt flag.
func (c *CPU) Sti() {
	c.Regs.EFLAGS |= FlagIF
}

// InterruptsEnabled reports whether EFLAGS.IF is set.
func (c *CPU) InterruptsEnabled() bool {
	return c.Regs.EFLAGS&FlagIF != 0
}

// Halt stops the processor. Only a reset brings it back.
func (c *CPU) Halt() {
	c.halted = true
}

// Halted reports whether the processor executed hlt with interrupts off.
func (c *CPU) Halted() bool {
	return c.halted
}
