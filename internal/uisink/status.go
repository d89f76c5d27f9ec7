package uisink

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/ledlink/internal/ble"
)

// StatusOptions tunes the connection status indicator.
type StatusOptions struct {
	DotsInterval time.Duration // ellipsis animation frame interval
	Debounce     time.Duration // a new message is shown only after this quiet period
	DismissDelay time.Duration // indicator stays up this long after ready
}

// DefaultStatusOptions returns the indicator timings.
func DefaultStatusOptions() StatusOptions {
	return StatusOptions{
		DotsInterval: 120 * time.Millisecond,
		Debounce:     300 * time.Millisecond,
		DismissDelay: 700 * time.Millisecond,
	}
}

// Renderer draws the indicator.
type Renderer interface {
	Show(text string)
	Dismiss()
}

type phase int

const (
	phaseNone phase = iota
	phaseSearching
	phaseFound
	phaseConnected
)

func phaseOf(s ble.State) phase {
	switch {
	case s.Linked():
		return phaseConnected
	case s.Found():
		return phaseFound
	default:
		return phaseSearching
	}
}

func (p phase) message() string {
	found, connected := "✕", "✕"
	if p >= phaseFound {
		found = "✓"
	}
	if p >= phaseConnected {
		connected = "✓"
	}
	return fmt.Sprintf("Device found: %s | Device connected: %s", found, connected)
}

// dots returns the animated ellipsis for frame. The cycle is eight frames
// long and holds the longest form for its second half.
func dots(frame int) string {
	n := frame%8 + 1
	if n > 4 {
		n = 4
	}
	return strings.Repeat(".", n)
}

// Status is the persistent connection indicator. It implements
// dispatch.Sink but only renders connection state.
type Status struct {
	renderer Renderer
	opts     StatusOptions

	mu       sync.Mutex
	current  phase
	pending  phase
	visible  bool
	closed   bool
	debounce *time.Timer
	dismiss  *time.Timer
	epoch    uint64 // bumped on every state change; a dismissal only applies in its own epoch
	stopDots chan struct{}
}

// NewStatus creates an indicator drawing to r.
func NewStatus(r Renderer, opts StatusOptions) *Status {
	if opts.DotsInterval <= 0 {
		opts.DotsInterval = DefaultStatusOptions().DotsInterval
	}
	return &Status{renderer: r, opts: opts, visible: true}
}

func (s *Status) SetLED(bool)       {}
func (s *Status) SetBrightness(int) {}
func (s *Status) SetMode(int)       {}
func (s *Status) Notify(string)     {}

// ConnectionChanged updates the indicator for state.
func (s *Status) ConnectionChanged(state ble.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.epoch++
	if state == ble.StateReady {
		s.stopTimer(&s.dismiss)
		epoch := s.epoch
		s.dismiss = time.AfterFunc(s.opts.DismissDelay, func() { s.hide(epoch) })
	} else {
		s.stopTimer(&s.dismiss)
		if !s.visible {
			s.visible = true
			s.restartDots()
		}
	}

	s.pending = phaseOf(state)
	s.stopTimer(&s.debounce)
	s.debounce = time.AfterFunc(s.opts.Debounce, s.apply)
}

func (s *Status) apply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending == s.current {
		return
	}
	s.current = s.pending
	if s.visible {
		s.restartDots()
	}
}

// hide dismisses the indicator unless the state changed after the
// dismissal was scheduled. A timer that already fired cannot be stopped,
// so the epoch check is what cancels it.
func (s *Status) hide(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.visible || epoch != s.epoch {
		return
	}
	s.visible = false
	s.haltDots()
	s.renderer.Dismiss()
}

// restartDots cancels the running animation and starts a new one for the
// current message. Called with mu held.
func (s *Status) restartDots() {
	s.haltDots()
	if s.current == phaseNone {
		return
	}
	stop := make(chan struct{})
	s.stopDots = stop
	msg := s.current.message()
	s.renderer.Show(frameText(msg, 0))
	go s.animate(stop, msg)
}

func (s *Status) haltDots() {
	if s.stopDots != nil {
		close(s.stopDots)
		s.stopDots = nil
	}
}

func (s *Status) animate(stop chan struct{}, msg string) {
	ticker := time.NewTicker(s.opts.DotsInterval)
	defer ticker.Stop()
	for frame := 1; ; frame++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		select {
		case <-stop:
			s.mu.Unlock()
			return
		default:
		}
		s.renderer.Show(frameText(msg, frame))
		s.mu.Unlock()
	}
}

func frameText(msg string, frame int) string {
	return "CONNECTING TO DEVICE" + dots(frame) + " " + msg
}

func (s *Status) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Visible reports whether the indicator is currently shown.
func (s *Status) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Message returns the message currently shown, without the animation.
func (s *Status) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == phaseNone {
		return ""
	}
	return s.current.message()
}

// Close stops the animation and every pending timer.
func (s *Status) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimer(&s.debounce)
	s.stopTimer(&s.dismiss)
	s.haltDots()
}

// TerminalRenderer redraws the indicator on a single terminal line.
type TerminalRenderer struct {
	w io.Writer
}

// NewTerminalRenderer returns a renderer writing to w.
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

func (r *TerminalRenderer) Show(text string) {
	fmt.Fprintf(r.w, "\r\033[K%s", text)
}

func (r *TerminalRenderer) Dismiss() {
	fmt.Fprint(r.w, "\r\033[K")
}
