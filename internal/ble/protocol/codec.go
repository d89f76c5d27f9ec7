// Package protocol implements the fixed-width decimal command protocol
// spoken by the LED controller firmware.
//
// Every message is five ASCII digits, DDSSS: a two digit domain followed by
// a three digit value. "03001" is domain 3 (mode) with value 1 (blinking).
// The same framing is used in both directions.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

// Version identifies the wire generation this package speaks. Older
// firmware used single-digit commands; the two are not interoperable and
// the firmware offers no negotiation, so peers are assumed to run the
// five-digit generation.
const Version = 2

// PayloadLen is the exact length of an encoded command.
const PayloadLen = 5

// Domain is the command category carried in the first two digits.
type Domain int

const (
	DomainLED        Domain = 1
	DomainBrightness Domain = 2
	DomainMode       Domain = 3
	DomainSystem     Domain = 99
)

// String returns a short name for logging.
func (d Domain) String() string {
	switch d {
	case DomainLED:
		return "led"
	case DomainBrightness:
		return "brightness"
	case DomainMode:
		return "mode"
	case DomainSystem:
		return "system"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// System sub-codes.
const (
	SystemSaved = 1 // save current state as default / saved ack
	SystemSync  = 2 // request full state / full sync complete
)

// LED mode values.
const (
	ModeStatic = 0
	ModeBlink  = 1
)

// Brightness bounds accepted by the firmware PWM driver.
const (
	MinBrightness = 1
	MaxBrightness = 255
)

const (
	maxDomain = 99
	maxValue  = 999
)

var (
	// ErrMalformedPayload is returned by Decode for anything that is not
	// exactly five decimal digits.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	// ErrOutOfRange is returned by Encode when a field does not fit its width.
	ErrOutOfRange = errors.New("protocol: command out of range")
)

// Command is a decoded protocol message.
type Command struct {
	Domain Domain
	Value  int
}

func (c Command) String() string {
	return fmt.Sprintf("%s=%d", c.Domain, c.Value)
}

// Encode renders c as its five digit wire form.
func Encode(c Command) ([]byte, error) {
	if c.Domain < 0 || c.Domain > maxDomain {
		return nil, fmt.Errorf("%w: domain %d", ErrOutOfRange, int(c.Domain))
	}
	if c.Value < 0 || c.Value > maxValue {
		return nil, fmt.Errorf("%w: value %d", ErrOutOfRange, c.Value)
	}
	return []byte(fmt.Sprintf("%02d%03d", int(c.Domain), c.Value)), nil
}

// Decode parses a five digit payload. The firmware writes C strings, so
// trailing NUL bytes and surrounding whitespace are ignored.
func Decode(data []byte) (Command, error) {
	s := trim(data)
	if len(s) != PayloadLen {
		return Command{}, fmt.Errorf("%w: %q has length %d", ErrMalformedPayload, s, len(s))
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Command{}, fmt.Errorf("%w: %q is not numeric", ErrMalformedPayload, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Command{Domain: Domain(n / 1000), Value: n % 1000}, nil
}

func trim(data []byte) string {
	start, end := 0, len(data)
	for start < end && isSpace(data[start]) {
		start++
	}
	for end > start && (data[end-1] == 0 || isSpace(data[end-1])) {
		end--
	}
	return string(data[start:end])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// LED switches the LED on or off.
func LED(on bool) Command {
	if on {
		return Command{Domain: DomainLED, Value: 1}
	}
	return Command{Domain: DomainLED, Value: 0}
}

// Brightness sets the PWM level. level must be within
// [MinBrightness, MaxBrightness].
func Brightness(level int) (Command, error) {
	if level < MinBrightness || level > MaxBrightness {
		return Command{}, fmt.Errorf("%w: brightness %d not in [%d, %d]", ErrOutOfRange, level, MinBrightness, MaxBrightness)
	}
	return Command{Domain: DomainBrightness, Value: level}, nil
}

// Mode selects static or blinking output.
func Mode(mode int) (Command, error) {
	switch mode {
	case ModeStatic, ModeBlink:
		return Command{Domain: DomainMode, Value: mode}, nil
	default:
		return Command{}, fmt.Errorf("%w: mode %d", ErrOutOfRange, mode)
	}
}

// RequestSync asks the peripheral to re-broadcast its full state.
func RequestSync() Command {
	return Command{Domain: DomainSystem, Value: SystemSync}
}

// SaveDefault asks the peripheral to persist its current state.
func SaveDefault() Command {
	return Command{Domain: DomainSystem, Value: SystemSaved}
}
