// Package hotkey provides a global hotkey listener using gohook.
// Each key combo is bound to an intent. A combo with an alternate intent
// toggles: first press sends the intent, second press the alternate, etc.
package hotkey

import (
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/ledlink/internal/dispatch"
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Keys   []string
	Intent dispatch.Intent
}

// Binding maps a key combo to an intent.
type Binding struct {
	Keys   []string
	Intent dispatch.Intent
	Alt    *dispatch.Intent // optional; makes the binding a toggle
}

// NewBinding parses a binding. keys should be lowercase key names
// (e.g., ["ctrl", "alt", "l"]); intent and alt use the same syntax as
// dispatch.ParseIntent. alt may be empty.
func NewBinding(keys []string, intent, alt string) (Binding, error) {
	if len(keys) == 0 {
		return Binding{}, fmt.Errorf("hotkey: binding for %q has no keys", intent)
	}
	in, err := dispatch.ParseIntent(intent)
	if err != nil {
		return Binding{}, fmt.Errorf("hotkey: %s: %w", strings.Join(keys, "+"), err)
	}
	b := Binding{Keys: keys, Intent: in}
	if alt != "" {
		a, err := dispatch.ParseIntent(alt)
		if err != nil {
			return Binding{}, fmt.Errorf("hotkey: %s: %w", strings.Join(keys, "+"), err)
		}
		b.Alt = &a
	}
	return b, nil
}

// toggle tracks which side of a toggling binding fires next.
type toggle struct {
	Binding
	mu      sync.Mutex
	flipped bool
}

// press returns the intent for this key press.
func (t *toggle) press() dispatch.Intent {
	if t.Alt == nil {
		return t.Intent
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	in := t.Intent
	if t.flipped {
		in = *t.Alt
	}
	t.flipped = !t.flipped
	return in
}

// Listener manages global hotkeys and emits intent events.
type Listener struct {
	bindings []*toggle
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener for the given bindings.
func NewListener(bindings []Binding) *Listener {
	l := &Listener{
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
	for _, b := range bindings {
		l.bindings = append(l.bindings, &toggle{Binding: b})
	}
	return l
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// fire emits the intent for one key press without blocking.
func (l *Listener) fire(t *toggle) {
	select {
	case l.ch <- Event{Keys: t.Keys, Intent: t.press()}:
	default: // don't block if channel is full
	}
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, t := range l.bindings {
		hook.Register(hook.KeyDown, t.Keys, func(hook.Event) {
			l.fire(t)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
