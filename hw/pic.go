package hw

// 8259A I/O ports and command bytes
const (
	PIC1Command = 0x20
	PIC1Data    = 0x21
	PIC2Command = 0xA0
	PIC2Data    = 0xA1

	PICInit = 0x11 // ICW1: edge triggered, cascade, ICW4 follows
	PICEOI  = 0x20 // OCW2: non-specific end of interrupt
)

// Device IRQ lines
const (
	IRQTimer        = 0
	IRQKeyboard     = 1
	IRQCascade      = 2
	IRQMouse        = 12
	IRQATAPrimary   = 14
	IRQATASecondary = 15
)

// PIC8259A is one interrupt controller chip.
// Refs: http://oswiki.osask.jp/?%28PIC%298259A
type PIC8259A struct {
	Offset uint8 // vector of line 0, programmed by ICW2
	IRR    uint8 // Interrupt Request Register
	ISR    uint8 // In-Service Register
	IMR    uint8 // Interrupt Mask Register

	icwStep  int
	needICW4 bool
}

func (c *PIC8259A) command(v uint8) bool {
	if v&0x10 != 0 {
		// ICW1 restarts the initialization sequence
		c.icwStep = 2
		c.needICW4 = v&0x01 != 0
		c.IRR, c.ISR, c.IMR = 0, 0, 0
		return false
	}
	if v == PICEOI {
		for i := uint8(0); i < 8; i++ {
			if c.ISR&(1<<i) != 0 {
				c.ISR &^= 1 << i
				break
			}
		}
		return true
	}
	return false
}

func (c *PIC8259A) data(v uint8) {
	switch c.icwStep {
	case 2:
		c.Offset = v &^ 0x7
		c.icwStep = 3
	case 3:
		if c.needICW4 {
			c.icwStep = 4
		} else {
			c.icwStep = 0
		}
	case 4:
		c.icwStep = 0
	default:
		c.IMR = v
	}
}

// pending returns the highest-priority requested, unmasked line.
func (c *PIC8259A) pending() (uint8, bool) {
	ready := c.IRR &^ c.IMR
	for i := uint8(0); i < 8; i++ {
		if ready&(1<<i) != 0 {
			return i, true
		}
	}
	return 0, false
}

// PIC is the master/slave 8259A pair, slave cascaded on master line 2.
type PIC struct {
	Master PIC8259A
	Slave  PIC8259A

	eois []uint16
}

// In implements PortDevice.
func (p *PIC) In(port uint16) uint8 {
	switch port {
	case PIC1Data:
		return p.Master.IMR
	case PIC2Data:
		return p.Slave.IMR
	case PIC1Command:
		return p.Master.IRR
	default:
		return p.Slave.IRR
	}
}

// Out implements PortDevice.
func (p *PIC) Out(port uint16, v uint8) {
	switch port {
	case PIC1Command:
		if p.Master.command(v) {
			p.eois = append(p.eois, port)
		}
	case PIC2Command:
		if p.Slave.command(v) {
			p.eois = append(p.eois, port)
		}
	case PIC1Data:
		p.Master.data(v)
	case PIC2Data:
		p.Slave.data(v)
	}
}

// Raise asserts a device IRQ line (0-15).
func (p *PIC) Raise(line uint8) {
	if line < 8 {
		p.Master.IRR |= 1 << line
		return
	}
	p.Slave.IRR |= 1 << (line - 8)
	p.Master.IRR |= 1 << IRQCascade
}

// Acknowledge is the CPU's INTA cycle: it moves the highest-priority pending
// line in service and returns its vector.
func (p *PIC) Acknowledge() (uint8, bool) {
	line, ok := p.Master.pending()
	if !ok {
		return 0, false
	}
	if line != IRQCascade {
		p.Master.IRR &^= 1 << line
		p.Master.ISR |= 1 << line
		return p.Master.Offset + line, true
	}

	sline, ok := p.Slave.pending()
	if !ok {
		// Spurious cascade request
		p.Master.IRR &^= 1 << IRQCascade
		return 0, false
	}
	p.Slave.IRR &^= 1 << sline
	p.Slave.ISR |= 1 << sline
	if _, more := p.Slave.pending(); !more {
		p.Master.IRR &^= 1 << IRQCascade
	}
	p.Master.ISR |= 1 << IRQCascade
	return p.Slave.Offset + sline, true
}

// EOIs returns the command ports that received an end-of-interrupt, in order.
func (p *PIC) EOIs() []uint16 {
	return p.eois
}
