package uisink

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/ledlink/internal/ble"
)

type fakeRenderer struct {
	mu        sync.Mutex
	frames    []string
	dismissed int
}

func (r *fakeRenderer) Show(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, text)
}

func (r *fakeRenderer) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed++
}

func (r *fakeRenderer) state() (frames int, last string, dismissed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) > 0 {
		last = r.frames[len(r.frames)-1]
	}
	return len(r.frames), last, r.dismissed
}

func fastStatus() StatusOptions {
	return StatusOptions{
		DotsInterval: 2 * time.Millisecond,
		Debounce:     5 * time.Millisecond,
		DismissDelay: 20 * time.Millisecond,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDots(t *testing.T) {
	want := []string{".", "..", "...", "....", "....", "....", "....", "....", "."}
	for frame, w := range want {
		if got := dots(frame); got != w {
			t.Errorf("dots(%d) = %q, want %q", frame, got, w)
		}
	}
}

func TestPhaseMessages(t *testing.T) {
	tests := []struct {
		state ble.State
		want  string
	}{
		{ble.StateScanning, "Device found: ✕ | Device connected: ✕"},
		{ble.StateConnecting, "Device found: ✓ | Device connected: ✕"},
		{ble.StateRetrying, "Device found: ✓ | Device connected: ✕"},
		{ble.StateAuthenticating, "Device found: ✓ | Device connected: ✓"},
		{ble.StateDisconnected, "Device found: ✕ | Device connected: ✕"},
	}
	for _, tt := range tests {
		if got := phaseOf(tt.state).message(); got != tt.want {
			t.Errorf("%s: message = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStatusAnimatesCurrentMessage(t *testing.T) {
	r := &fakeRenderer{}
	s := NewStatus(r, fastStatus())
	defer s.Close()

	s.ConnectionChanged(ble.StateScanning)
	eventually(t, "animation frames", func() bool { n, _, _ := r.state(); return n >= 3 })

	_, last, _ := r.state()
	if !strings.HasPrefix(last, "CONNECTING TO DEVICE.") || !strings.HasSuffix(last, "Device connected: ✕") {
		t.Errorf("frame = %q", last)
	}
	if s.Message() != phaseSearching.message() {
		t.Errorf("Message() = %q", s.Message())
	}
}

func TestStatusDebouncesChanges(t *testing.T) {
	r := &fakeRenderer{}
	opts := fastStatus()
	opts.Debounce = 30 * time.Millisecond
	s := NewStatus(r, opts)
	defer s.Close()

	s.ConnectionChanged(ble.StateScanning)
	s.ConnectionChanged(ble.StateConnecting)
	s.ConnectionChanged(ble.StateServicesDiscovering)
	if s.Message() != "" {
		t.Errorf("Message() = %q before debounce elapsed, want empty", s.Message())
	}

	eventually(t, "connected message", func() bool { return s.Message() == phaseConnected.message() })
	_, last, _ := r.state()
	if !strings.Contains(last, "Device connected: ✓") {
		t.Errorf("frame = %q, want connected message", last)
	}
}

func TestStatusDismissedAfterReady(t *testing.T) {
	r := &fakeRenderer{}
	s := NewStatus(r, fastStatus())
	defer s.Close()

	s.ConnectionChanged(ble.StateConnecting)
	s.ConnectionChanged(ble.StateReady)
	eventually(t, "dismissal", func() bool { return !s.Visible() })

	_, _, dismissed := r.state()
	if dismissed != 1 {
		t.Errorf("dismissed = %d, want 1", dismissed)
	}
	frames, _, _ := r.state()
	time.Sleep(10 * time.Millisecond)
	if after, _, _ := r.state(); after != frames {
		t.Errorf("animation kept drawing after dismissal: %d -> %d frames", frames, after)
	}
}

func TestStatusReappearsOnDisconnect(t *testing.T) {
	r := &fakeRenderer{}
	s := NewStatus(r, fastStatus())
	defer s.Close()

	s.ConnectionChanged(ble.StateReady)
	eventually(t, "dismissal", func() bool { return !s.Visible() })

	s.ConnectionChanged(ble.StateDisconnected)
	if !s.Visible() {
		t.Fatal("Visible() = false after disconnect")
	}
	eventually(t, "searching message", func() bool { return s.Message() == phaseSearching.message() })
}

func TestStatusDisconnectCancelsDismissal(t *testing.T) {
	r := &fakeRenderer{}
	opts := fastStatus()
	opts.DismissDelay = 30 * time.Millisecond
	s := NewStatus(r, opts)
	defer s.Close()

	s.ConnectionChanged(ble.StateReady)
	s.ConnectionChanged(ble.StateDisconnected)
	time.Sleep(60 * time.Millisecond)

	if !s.Visible() {
		t.Error("indicator dismissed although the link dropped")
	}
	if _, _, dismissed := r.state(); dismissed != 0 {
		t.Errorf("dismissed = %d, want 0", dismissed)
	}
}

func TestStatusLateDismissalAfterDisconnectIgnored(t *testing.T) {
	r := &fakeRenderer{}
	opts := fastStatus()
	opts.DismissDelay = time.Hour
	s := NewStatus(r, opts)
	defer s.Close()

	s.ConnectionChanged(ble.StateReady)
	s.mu.Lock()
	readyEpoch := s.epoch
	s.mu.Unlock()
	s.ConnectionChanged(ble.StateDisconnected)

	// The Ready dismissal fired before the drop but ran after it.
	s.hide(readyEpoch)

	if !s.Visible() {
		t.Error("indicator dismissed by a dismissal scheduled before the drop")
	}
	if _, _, dismissed := r.state(); dismissed != 0 {
		t.Errorf("dismissed = %d, want 0", dismissed)
	}
}

func TestStatusCloseStopsAnimation(t *testing.T) {
	r := &fakeRenderer{}
	s := NewStatus(r, fastStatus())

	s.ConnectionChanged(ble.StateScanning)
	eventually(t, "animation", func() bool { n, _, _ := r.state(); return n >= 2 })
	s.Close()
	s.Close()

	frames, _, _ := r.state()
	time.Sleep(10 * time.Millisecond)
	if after, _, _ := r.state(); after != frames {
		t.Errorf("frames drawn after Close: %d -> %d", frames, after)
	}
	s.ConnectionChanged(ble.StateConnecting)
}

func TestTerminalRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf)
	r.Show("hello")
	r.Dismiss()
	if got := buf.String(); got != "\r\033[Khello\r\033[K" {
		t.Errorf("output = %q", got)
	}
}
