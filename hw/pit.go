package hw

// 8253/8254 programmable interval timer
const (
	PITChannel0 = 0x40
	PITCommand  = 0x43

	PITFrequency = 1193182 // input clock in Hz
)

// PIT models channel 0 of the interval timer.
type PIT struct {
	Mode    uint8
	divisor uint16
	lowNext bool
}

// In implements PortDevice.
func (p *PIT) In(port uint16) uint8 {
	return 0
}

// Out implements PortDevice. The kernel programs lobyte then hibyte.
func (p *PIT) Out(port uint16, v uint8) {
	switch port {
	case PITCommand:
		p.Mode = v
		p.lowNext = true
	case PITChannel0:
		if p.lowNext {
			p.divisor = p.divisor&0xFF00 | uint16(v)
		} else {
			p.divisor = p.divisor&0x00FF | uint16(v)<<8
		}
		p.lowNext = !p.lowNext
	}
}

// Divisor returns the programmed reload value.
func (p *PIT) Divisor() uint16 {
	return p.divisor
}

// Frequency returns the tick rate in Hz, 0 if the timer was never programmed.
func (p *PIT) Frequency() uint32 {
	if p.divisor == 0 {
		return 0
	}
	return PITFrequency / uint32(p.divisor)
}
