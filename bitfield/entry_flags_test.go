package bitfield

import (
	"fmt"
	"testing"
)

func TestPackEntryFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    EntryFlags
		expected uint32
		wantErr  bool
	}{
		{
			name:     "all flags false",
			flags:    EntryFlags{},
			expected: 0x000,
		},
		{
			name:     "only present",
			flags:    EntryFlags{Present: true},
			expected: 0x001, // bit 0 set
		},
		{
			name:     "present writable user",
			flags:    EntryFlags{Present: true, Writable: true, User: true},
			expected: 0x007,
		},
		{
			name:     "global",
			flags:    EntryFlags{Global: true},
			expected: 0x100, // bit 8 set
		},
		{
			name:     "first available bit",
			flags:    EntryFlags{Present: true, Available: 1},
			expected: 0x201, // bit 9 + bit 0
		},
		{
			name:     "all available bits",
			flags:    EntryFlags{Available: 7},
			expected: 0xE00,
		},
		{
			name:    "available overflow",
			flags:   EntryFlags{Available: 8},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := PackEntryFlags(tt.flags)
			if (err != nil) != tt.wantErr {
				t.Errorf("PackEntryFlags() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if packed != tt.expected {
				t.Errorf("PackEntryFlags() = 0x%03x, want 0x%03x", packed, tt.expected)
			}
		})
	}
}

func TestUnpackEntryFlags(t *testing.T) {
	tests := []struct {
		name     string
		entry    uint32
		expected EntryFlags
	}{
		{
			name:     "absent entry",
			entry:    0x00000000,
			expected: EntryFlags{},
		},
		{
			name:     "frame address is ignored",
			entry:    0x00403000 | 0x3,
			expected: EntryFlags{Present: true, Writable: true},
		},
		{
			name:     "dirty and accessed",
			entry:    0x00001065,
			expected: EntryFlags{Present: true, User: true, Accessed: true, Dirty: true},
		},
		{
			name:     "owned frame marker",
			entry:    0x12345207,
			expected: EntryFlags{Present: true, Writable: true, User: true, Available: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnpackEntryFlags(tt.entry)
			if got != tt.expected {
				t.Errorf("UnpackEntryFlags(0x%08x) = %+v, want %+v", tt.entry, got, tt.expected)
			}
		})
	}
}

func TestEntryFlagsRoundTrip(t *testing.T) {
	for bits := uint32(0); bits < 0x1000; bits += 0x25 {
		t.Run(fmt.Sprintf("0x%03x", bits), func(t *testing.T) {
			packed, err := PackEntryFlags(UnpackEntryFlags(bits))
			if err != nil {
				t.Fatalf("PackEntryFlags() error = %v", err)
			}
			if packed != bits {
				t.Errorf("round trip = 0x%03x, want 0x%03x", packed, bits)
			}
		})
	}
}

func TestUnpackFaultCode(t *testing.T) {
	got := UnpackFaultCode(0x6)
	want := FaultCode{Write: true, User: true}
	if got != want {
		t.Errorf("UnpackFaultCode(0x6) = %+v, want %+v", got, want)
	}

	got = UnpackFaultCode(0x11)
	want = FaultCode{Present: true, InstructionFetch: true}
	if got != want {
		t.Errorf("UnpackFaultCode(0x11) = %+v, want %+v", got, want)
	}
}

func TestPackRejectsNonStruct(t *testing.T) {
	if _, err := Pack(42, nil); err == nil {
		t.Error("Pack(int) error = nil, want error")
	}
	var f EntryFlags
	if err := Unpack(0, f); err == nil {
		t.Error("Unpack(non-pointer) error = nil, want error")
	}
}

func TestPackNumBits(t *testing.T) {
	type wide struct {
		A uint32 `bitfield:",10"`
		B uint32 `bitfield:",10"`
	}
	if _, err := Pack(wide{}, &Config{NumBits: 16}); err == nil {
		t.Error("Pack() with 20 bits into 16 error = nil, want error")
	}
	packed, err := Pack(wide{A: 1, B: 1}, nil)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if packed != 1|1<<10 {
		t.Errorf("Pack() = 0x%x, want 0x%x", packed, 1|1<<10)
	}
}

func TestFieldTags(t *testing.T) {
	type named struct {
		Low  uint8 `bitfield:"low,4"`
		High uint8 `bitfield:",4"`
		Skip uint8
	}
	packed, err := Pack(named{Low: 0x3, High: 0xA, Skip: 0xFF}, nil)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if packed != 0xA3 {
		t.Errorf("Pack() = 0x%x, want 0xa3", packed)
	}

	tests := []struct {
		name string
		x    interface{}
	}{
		{"no comma", struct {
			A uint8 `bitfield:"4"`
		}{}},
		{"not a number", struct {
			A uint8 `bitfield:"a,b"`
		}{}},
		{"negative", struct {
			A uint8 `bitfield:",-1"`
		}{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Pack(test.x, nil); err == nil {
				t.Error("Pack() error = nil, want an invalid tag error")
			}
		})
	}
}
