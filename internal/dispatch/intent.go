package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chaz8081/ledlink/internal/ble/protocol"
)

// Kind identifies an outbound user intent.
type Kind string

const (
	KindLED        Kind = "led"
	KindBrightness Kind = "brightness"
	KindMode       Kind = "mode"
	KindReload     Kind = "reload"
	KindSave       Kind = "save"
)

// Intent is a user action to be sent to the peripheral.
type Intent struct {
	Kind  Kind
	Value int
}

// NewIntent validates a kind/value pair as received from a UI client.
func NewIntent(kind string, value int) (Intent, error) {
	in := Intent{Kind: Kind(strings.ToLower(kind)), Value: value}
	if _, err := in.Command(); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// ParseIntent parses the textual form used by the CLI and hotkey
// bindings: "led on", "led off", "brightness 128", "mode static",
// "mode blink", "reload" or "save".
func ParseIntent(s string) (Intent, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return Intent{}, fmt.Errorf("dispatch: empty intent")
	}

	kind := Kind(fields[0])
	args := fields[1:]
	switch kind {
	case KindReload, KindSave:
		if len(args) != 0 {
			return Intent{}, fmt.Errorf("dispatch: %s takes no argument", kind)
		}
		return Intent{Kind: kind}, nil
	}
	if len(args) != 1 {
		return Intent{}, fmt.Errorf("dispatch: %s takes exactly one argument", kind)
	}

	var value int
	switch kind {
	case KindLED:
		switch args[0] {
		case "on", "1":
			value = 1
		case "off", "0":
			value = 0
		default:
			return Intent{}, fmt.Errorf("dispatch: led state %q must be on or off", args[0])
		}
	case KindMode:
		switch args[0] {
		case "static", "0":
			value = protocol.ModeStatic
		case "blink", "blinking", "1":
			value = protocol.ModeBlink
		default:
			return Intent{}, fmt.Errorf("dispatch: mode %q must be static or blink", args[0])
		}
	case KindBrightness:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return Intent{}, fmt.Errorf("dispatch: brightness %q: %w", args[0], err)
		}
		value = n
	default:
		return Intent{}, fmt.Errorf("dispatch: unknown intent %q", fields[0])
	}

	return NewIntent(string(kind), value)
}

// Command converts the intent to its wire command.
func (in Intent) Command() (protocol.Command, error) {
	switch in.Kind {
	case KindLED:
		if in.Value != 0 && in.Value != 1 {
			return protocol.Command{}, fmt.Errorf("dispatch: led value %d: %w", in.Value, protocol.ErrOutOfRange)
		}
		return protocol.LED(in.Value == 1), nil
	case KindBrightness:
		return protocol.Brightness(in.Value)
	case KindMode:
		return protocol.Mode(in.Value)
	case KindReload:
		return protocol.RequestSync(), nil
	case KindSave:
		return protocol.SaveDefault(), nil
	}
	return protocol.Command{}, fmt.Errorf("dispatch: unknown intent %q", in.Kind)
}

func (in Intent) String() string {
	switch in.Kind {
	case KindReload, KindSave:
		return string(in.Kind)
	case KindLED:
		if in.Value == 1 {
			return "led on"
		}
		return "led off"
	case KindMode:
		if in.Value == protocol.ModeBlink {
			return "mode blink"
		}
		return "mode static"
	}
	return fmt.Sprintf("%s %d", in.Kind, in.Value)
}
