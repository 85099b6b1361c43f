package hw

// Machine is the whole simulated computer.
type Machine struct {
	Mem   *Memory
	CPU   *CPU
	Ports *Ports
	PIC   *PIC
	PIT   *PIT
	PS2   *PS2
}

// NewMachine returns a machine with memSize bytes of RAM and every device
// wired to its ports.
func NewMachine(memSize uint32) *Machine {
	m := &Machine{
		Mem:   NewMemory(memSize),
		CPU:   NewCPU(),
		Ports: NewPorts(),
		PIC:   &PIC{},
		PIT:   &PIT{},
		PS2:   &PS2{},
	}
	m.Ports.Attach(m.PIC, PIC1Command, PIC1Data, PIC2Command, PIC2Data)
	m.Ports.Attach(m.PIT, PITChannel0, PITCommand)
	m.Ports.Attach(m.PS2, PS2Data, PS2Status)
	return m
}

// KeyPress feeds a scancode byte to the PS/2 controller and raises IRQ 1.
func (m *Machine) KeyPress(b byte) {
	m.PS2.Push(b, false)
	m.PIC.Raise(IRQKeyboard)
}

// MouseByte feeds a mouse packet byte and raises IRQ 12.
func (m *Machine) MouseByte(b byte) {
	m.PS2.Push(b, true)
	m.PIC.Raise(IRQMouse)
}

// TimerFire raises IRQ 0.
func (m *Machine) TimerFire() {
	m.PIC.Raise(IRQTimer)
}

// NextInterrupt returns the vector the CPU takes next, if interrupts are
// enabled and a device line is pending.
func (m *Machine) NextInterrupt() (uint8, bool) {
	if m.CPU.Halted() || !m.CPU.InterruptsEnabled() {
		return 0, false
	}
	return m.PIC.Acknowledge()
}
