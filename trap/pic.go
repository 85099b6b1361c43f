package trap

import (
	"github.com/mrkct/experimental-os/hw"
	"github.com/mrkct/experimental-os/kernel"
)

// InitPIC remaps both 8259s so device line n raises vector offset+n,
// keeping the interrupt masks they had.
func InitPIC(ports *hw.Ports, offset uint8) {
	kernel.Assert(offset >= 32 && offset <= 256-16, "32 <= irq offset <= 240")
	kernel.Assert(offset%8 == 0, "irq offset % 8 == 0")

	mask1 := ports.Inb(hw.PIC1Data)
	mask2 := ports.Inb(hw.PIC2Data)

	ports.Outb(hw.PIC1Command, hw.PICInit)
	ports.Outb(hw.PIC2Command, hw.PICInit)
	ports.Outb(hw.PIC1Data, offset)
	ports.Outb(hw.PIC2Data, offset+8)
	ports.Outb(hw.PIC1Data, 0x04) // slave on line 2
	ports.Outb(hw.PIC2Data, 0x02) // cascade identity
	ports.Outb(hw.PIC1Data, 0x01) // 8086 mode
	ports.Outb(hw.PIC2Data, 0x01)

	ports.Outb(hw.PIC1Data, mask1)
	ports.Outb(hw.PIC2Data, mask2)
}

// AckPIC signals end of interrupt for device line. Lines on the slave need
// both controllers acknowledged, slave first.
func AckPIC(ports *hw.Ports, line uint8) {
	if line >= 8 {
		ports.Outb(hw.PIC2Command, hw.PICEOI)
	}
	ports.Outb(hw.PIC1Command, hw.PICEOI)
}

// InitTimer programs PIT channel 0 as a rate generator firing hz times a
// second.
func InitTimer(ports *hw.Ports, hz uint32) {
	kernel.Assert(hz > hw.PITFrequency/0xFFFF && hz <= hw.PITFrequency, "timer frequency in PIT range")
	divisor := hw.PITFrequency / hz
	ports.Outb(hw.PITCommand, 0x36)
	ports.Outb(hw.PITChannel0, uint8(divisor))
	ports.Outb(hw.PITChannel0, uint8(divisor>>8))
}
