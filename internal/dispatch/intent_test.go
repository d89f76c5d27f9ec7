package dispatch

import (
	"testing"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in      string
		want    Intent
		payload string
	}{
		{"led on", Intent{KindLED, 1}, "01001"},
		{"LED Off", Intent{KindLED, 0}, "01000"},
		{"brightness 200", Intent{KindBrightness, 200}, "02200"},
		{"  brightness   1 ", Intent{KindBrightness, 1}, "02001"},
		{"mode static", Intent{KindMode, 0}, "03000"},
		{"mode blink", Intent{KindMode, 1}, "03001"},
		{"reload", Intent{KindReload, 0}, "99002"},
		{"save", Intent{KindSave, 0}, "99001"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIntent(tt.in)
			if err != nil {
				t.Fatalf("ParseIntent(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseIntent(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			cmd, err := got.Command()
			if err != nil {
				t.Fatalf("Command() error = %v", err)
			}
			if cmd.String() == "" {
				t.Error("Command().String() is empty")
			}
		})
	}
}

func TestParseIntentErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"dance",
		"led",
		"led maybe",
		"brightness",
		"brightness bright",
		"brightness 0",
		"brightness 256",
		"mode rainbow",
		"reload now",
		"save 1",
	} {
		if _, err := ParseIntent(in); err == nil {
			t.Errorf("ParseIntent(%q) should fail", in)
		}
	}
}

func TestNewIntent(t *testing.T) {
	in, err := NewIntent("Brightness", 42)
	if err != nil {
		t.Fatalf("NewIntent() error = %v", err)
	}
	if in.Kind != KindBrightness || in.Value != 42 {
		t.Errorf("NewIntent() = %+v", in)
	}
	if _, err := NewIntent("led", 2); err == nil {
		t.Error("NewIntent(led, 2) should fail")
	}
	if _, err := NewIntent("strobe", 1); err == nil {
		t.Error("NewIntent(strobe) should fail")
	}
}

func TestIntentString(t *testing.T) {
	tests := map[Intent]string{
		{KindLED, 1}:          "led on",
		{KindLED, 0}:          "led off",
		{KindMode, 1}:         "mode blink",
		{KindMode, 0}:         "mode static",
		{KindBrightness, 128}: "brightness 128",
		{KindSave, 0}:         "save",
	}
	for in, want := range tests {
		if got := in.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", in, got, want)
		}
	}
}
