package protocol

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{LED(true), "01001"},
		{LED(false), "01000"},
		{Command{Domain: DomainBrightness, Value: 128}, "02128"},
		{Command{Domain: DomainMode, Value: ModeStatic}, "03000"},
		{RequestSync(), "99002"},
		{SaveDefault(), "99001"},
		{Command{Domain: 0, Value: 0}, "00000"},
	}
	for _, tt := range tests {
		got, err := Encode(tt.cmd)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", tt.cmd, err)
		}
		if string(got) != tt.want {
			t.Errorf("Encode(%v) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	tests := []Command{
		{Domain: 100, Value: 0},
		{Domain: -1, Value: 0},
		{Domain: DomainLED, Value: 1000},
		{Domain: DomainLED, Value: -1},
	}
	for _, cmd := range tests {
		if _, err := Encode(cmd); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Encode(%v) error = %v, want ErrOutOfRange", cmd, err)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"01001", Command{Domain: DomainLED, Value: 1}},
		{"02128", Command{Domain: DomainBrightness, Value: 128}},
		{"03001", Command{Domain: DomainMode, Value: ModeBlink}},
		{"99002", Command{Domain: DomainSystem, Value: SystemSync}},
		{"55222", Command{Domain: 55, Value: 222}},
		{"99001\x00", Command{Domain: DomainSystem, Value: SystemSaved}},
		{" 01000\n", Command{Domain: DomainLED, Value: 0}},
	}
	for _, tt := range tests {
		got, err := Decode([]byte(tt.in))
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Decode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []string{
		"",
		"1",
		"0100",
		"010011",
		"abcde",
		"01a01",
		"-1001",
		"+1001",
		"\x00\x00\x00\x00\x00",
	}
	for _, in := range tests {
		_, err := Decode([]byte(in))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedPayload", in, err)
		}
	}
}

func TestRoundTripAllCommands(t *testing.T) {
	for d := 0; d <= maxDomain; d++ {
		for v := 0; v <= maxValue; v++ {
			cmd := Command{Domain: Domain(d), Value: v}
			wire, err := Encode(cmd)
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", cmd, err)
			}
			if len(wire) != PayloadLen {
				t.Fatalf("Encode(%v) length = %d, want %d", cmd, len(wire), PayloadLen)
			}
			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", wire, err)
			}
			if got != cmd {
				t.Fatalf("Decode(Encode(%v)) = %v", cmd, got)
			}
		}
	}
}

func TestBrightnessBounds(t *testing.T) {
	if _, err := Brightness(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Brightness(0) error = %v, want ErrOutOfRange", err)
	}
	if _, err := Brightness(256); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Brightness(256) error = %v, want ErrOutOfRange", err)
	}
	cmd, err := Brightness(255)
	if err != nil {
		t.Fatalf("Brightness(255) error = %v", err)
	}
	if cmd.Value != 255 || cmd.Domain != DomainBrightness {
		t.Errorf("Brightness(255) = %v", cmd)
	}
}

func TestMode(t *testing.T) {
	if _, err := Mode(2); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Mode(2) error = %v, want ErrOutOfRange", err)
	}
	cmd, err := Mode(ModeBlink)
	if err != nil {
		t.Fatalf("Mode(ModeBlink) error = %v", err)
	}
	if cmd != (Command{Domain: DomainMode, Value: 1}) {
		t.Errorf("Mode(ModeBlink) = %v", cmd)
	}
}

func TestDomainString(t *testing.T) {
	if got := DomainSystem.String(); got != "system" {
		t.Errorf("DomainSystem.String() = %q, want %q", got, "system")
	}
	if got := Domain(42).String(); got != "domain(42)" {
		t.Errorf("Domain(42).String() = %q, want %q", got, "domain(42)")
	}
}
