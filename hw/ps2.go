package hw

// PS/2 controller ports and status bits
const (
	PS2Data   = 0x60
	PS2Status = 0x64

	PS2OutputFull = 0x01
	PS2MouseData  = 0x20
)

type ps2Byte struct {
	b     byte
	mouse bool
}

// PS2 is the keyboard/mouse controller output buffer.
type PS2 struct {
	queue []ps2Byte
}

// Push queues a byte from the keyboard or, if mouse is set, the aux port.
func (p *PS2) Push(b byte, mouse bool) {
	p.queue = append(p.queue, ps2Byte{b: b, mouse: mouse})
}

// In implements PortDevice.
func (p *PS2) In(port uint16) uint8 {
	switch port {
	case PS2Status:
		if len(p.queue) == 0 {
			return 0
		}
		status := uint8(PS2OutputFull)
		if p.queue[0].mouse {
			status |= PS2MouseData
		}
		return status
	case PS2Data:
		if len(p.queue) == 0 {
			return 0
		}
		b := p.queue[0].b
		p.queue = p.queue[1:]
		return b
	}
	return 0
}

// Out implements PortDevice. Controller commands are not modelled.
func (p *PS2) Out(port uint16, v uint8) {}
