// Package dispatch routes decoded peripheral messages to the UI state sink
// and turns user intents into encoded command writes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/ledlink/internal/ble"
	"github.com/chaz8081/ledlink/internal/ble/protocol"
)

// Toast messages shown for system acknowledgements.
const (
	MsgSynced = "Synced with device"
	MsgSaved  = "Saved state as default"
)

// Sink renders application state. Calls arrive on the connection
// manager's loop and must not block.
type Sink interface {
	SetLED(on bool)
	SetBrightness(level int)
	SetMode(mode int)
	ConnectionChanged(state ble.State)
	Notify(message string)
}

// Writer sends an encoded command to the peripheral.
type Writer interface {
	Write(ctx context.Context, payload []byte) error
}

// Dispatcher implements ble.Observer. It holds no UI state of its own.
type Dispatcher struct {
	sink Sink

	mu        sync.Mutex
	writer    Writer
	firstSync bool
}

// New creates a Dispatcher rendering to sink. The writer is bound later
// with Bind because the connection manager needs the dispatcher first.
func New(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink, firstSync: true}
}

// Bind sets the writer used for outbound intents.
func (d *Dispatcher) Bind(w Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writer = w
}

// OnStateChange forwards the transition to the sink. Losing the link
// re-arms the first-sync suppression.
func (d *Dispatcher) OnStateChange(from, to ble.State) {
	if !to.Linked() {
		d.mu.Lock()
		d.firstSync = true
		d.mu.Unlock()
	}
	d.sink.ConnectionChanged(to)
}

// OnNotification decodes data and routes it by domain. Malformed payloads
// and unknown domains are logged and dropped.
func (d *Dispatcher) OnNotification(data []byte) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("[DISPATCH] dropping malformed notification", "payload", fmt.Sprintf("%q", data), "error", err)
		return
	}
	slog.Debug("[DISPATCH] notification", "command", cmd)

	switch cmd.Domain {
	case protocol.DomainLED:
		switch cmd.Value {
		case 0:
			d.sink.SetLED(false)
		case 1:
			d.sink.SetLED(true)
		default:
			slog.Debug("[DISPATCH] ignoring led value", "value", cmd.Value)
		}

	case protocol.DomainBrightness:
		if cmd.Value < protocol.MinBrightness || cmd.Value > protocol.MaxBrightness {
			slog.Warn("[DISPATCH] brightness out of range", "value", cmd.Value)
			return
		}
		d.sink.SetBrightness(cmd.Value)

	case protocol.DomainMode:
		if cmd.Value == protocol.ModeStatic {
			d.sink.SetMode(protocol.ModeStatic)
		} else {
			d.sink.SetMode(protocol.ModeBlink)
		}

	case protocol.DomainSystem:
		switch cmd.Value {
		case protocol.SystemSync:
			d.mu.Lock()
			first := d.firstSync
			d.firstSync = false
			d.mu.Unlock()
			if first {
				slog.Debug("[DISPATCH] initial sync complete")
				return
			}
			d.sink.Notify(MsgSynced)
		case protocol.SystemSaved:
			d.sink.Notify(MsgSaved)
		default:
			slog.Debug("[DISPATCH] ignoring system code", "value", cmd.Value)
		}

	default:
		slog.Debug("[DISPATCH] ignoring unknown domain", "command", cmd)
	}
}

// Apply encodes the intent and writes it. A write attempted while the link
// is not ready is dropped; the error is still returned to the caller.
func (d *Dispatcher) Apply(ctx context.Context, in Intent) error {
	cmd, err := in.Command()
	if err != nil {
		return err
	}
	payload, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	d.mu.Lock()
	w := d.writer
	d.mu.Unlock()
	if w == nil {
		return fmt.Errorf("dispatch: %s: %w", in, ble.ErrNotReady)
	}

	if err := w.Write(ctx, payload); err != nil {
		if errors.Is(err, ble.ErrNotReady) {
			slog.Warn("[DISPATCH] intent dropped, link not ready", "intent", in.String())
		} else {
			slog.Error("[DISPATCH] write failed", "intent", in.String(), "error", err)
		}
		return fmt.Errorf("dispatch: %s: %w", in, err)
	}
	slog.Info("[DISPATCH] sent", "intent", in.String(), "payload", string(payload))
	return nil
}

// SetLED switches the LED.
func (d *Dispatcher) SetLED(ctx context.Context, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return d.Apply(ctx, Intent{Kind: KindLED, Value: v})
}

// SetBrightness sets the PWM level (1-255).
func (d *Dispatcher) SetBrightness(ctx context.Context, level int) error {
	return d.Apply(ctx, Intent{Kind: KindBrightness, Value: level})
}

// SetMode selects protocol.ModeStatic or protocol.ModeBlink.
func (d *Dispatcher) SetMode(ctx context.Context, mode int) error {
	return d.Apply(ctx, Intent{Kind: KindMode, Value: mode})
}

// Reload asks the peripheral to re-broadcast its state.
func (d *Dispatcher) Reload(ctx context.Context) error {
	return d.Apply(ctx, Intent{Kind: KindReload})
}

// Save asks the peripheral to persist its current state as default.
func (d *Dispatcher) Save(ctx context.Context) error {
	return d.Apply(ctx, Intent{Kind: KindSave})
}

var _ ble.Observer = (*Dispatcher)(nil)
