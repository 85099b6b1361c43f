package bitfield

// EntryFlags represents the low 12 bits of an i386 page directory or page
// table entry. Field order is the hardware bit order.
type EntryFlags struct {
	Present      bool `bitfield:",1"`
	Writable     bool `bitfield:",1"`
	User         bool `bitfield:",1"`
	WriteThrough bool `bitfield:",1"`
	CacheDisable bool `bitfield:",1"`
	Accessed     bool `bitfield:",1"`
	Dirty        bool `bitfield:",1"`
	PageSize     bool `bitfield:",1"`
	Global       bool `bitfield:",1"`

	// Available bits are ignored by the MMU and free for the kernel's use
	Available uint8 `bitfield:",3"`
}

// PackEntryFlags packs f into the permission bits of an entry.
func PackEntryFlags(f EntryFlags) (uint32, error) {
	packed, err := Pack(f, &Config{NumBits: 12})
	return uint32(packed), err
}

// UnpackEntryFlags extracts the permission bits of an entry. Bits above the
// low 12 (the frame address) are ignored.
func UnpackEntryFlags(entry uint32) EntryFlags {
	var f EntryFlags
	_ = Unpack(uint64(entry&0xFFF), &f)
	return f
}

// FaultCode is the error code the CPU pushes for a page fault.
type FaultCode struct {
	// Present is set when the fault was a protection violation and clear
	// when the page was not present
	Present          bool `bitfield:",1"`
	Write            bool `bitfield:",1"`
	User             bool `bitfield:",1"`
	ReservedWrite    bool `bitfield:",1"`
	InstructionFetch bool `bitfield:",1"`
}

// UnpackFaultCode decodes a page-fault error code.
func UnpackFaultCode(code uint32) FaultCode {
	var f FaultCode
	_ = Unpack(uint64(code&0x1F), &f)
	return f
}
