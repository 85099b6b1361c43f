package hw

// PortDevice is a device decoding one or more I/O ports.
type PortDevice interface {
	In(port uint16) uint8
	Out(port uint16, v uint8)
}

// Ports is the I/O port bus.
type Ports struct {
	devices map[uint16]PortDevice
}

// NewPorts returns an empty bus.
func NewPorts() *Ports {
	return &Ports{devices: make(map[uint16]PortDevice)}
}

// Attach routes the given ports to dev.
func (p *Ports) Attach(dev PortDevice, ports ...uint16) {
	for _, port := range ports {
		p.devices[port] = dev
	}
}

// Inb reads a byte from port. Undecoded ports float high.
func (p *Ports) Inb(port uint16) uint8 {
	if dev, ok := p.devices[port]; ok {
		return dev.In(port)
	}
	return 0xFF
}

// Outb writes v to port. Writes to undecoded ports are lost.
func (p *Ports) Outb(port uint16, v uint8) {
	if dev, ok := p.devices[port]; ok {
		dev.Out(port, v)
	}
}
