package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type matchKind int

const (
	matchAddress matchKind = iota
	matchName
	matchService
)

// Identity selects the target peripheral from scan results. It is built
// with MatchAddress, MatchName or MatchService.
type Identity struct {
	kind  matchKind
	value string
}

// MatchAddress selects the peripheral with the given hardware address.
func MatchAddress(address string) Identity {
	return Identity{kind: matchAddress, value: address}
}

// MatchName selects the peripheral advertising the given local name.
func MatchName(name string) Identity {
	return Identity{kind: matchName, value: name}
}

// MatchService selects the first peripheral advertising the service UUID.
func MatchService(uuid string) Identity {
	return Identity{kind: matchService, value: uuid}
}

// Match reports whether d is the target peripheral.
func (id Identity) Match(d Device) bool {
	switch id.kind {
	case matchAddress:
		return strings.EqualFold(d.Address, id.value)
	case matchName:
		return d.Name != "" && d.Name == id.value
	case matchService:
		for _, s := range d.Services {
			if strings.EqualFold(s, id.value) {
				return true
			}
		}
	}
	return false
}

// watched returns the service UUIDs the adapter must report for this identity.
func (id Identity) watched() []string {
	if id.kind == matchService {
		return []string{id.value}
	}
	return nil
}

func (id Identity) String() string {
	switch id.kind {
	case matchAddress:
		return "address " + id.value
	case matchName:
		return "name " + id.value
	case matchService:
		return "service " + id.value
	}
	return "unknown identity"
}

// Scanner runs discovery and forwards results matching its Identity.
type Scanner struct {
	adapter  Adapter
	identity Identity
	perms    PermissionAuthority

	mu       sync.Mutex
	cancel   context.CancelFunc
	scanID   uint64
	scanning bool
}

// NewScanner creates a Scanner. A nil perms grants everything.
func NewScanner(adapter Adapter, identity Identity, perms PermissionAuthority) *Scanner {
	if perms == nil {
		perms = AllowAll{}
	}
	return &Scanner{adapter: adapter, identity: identity, perms: perms}
}

// Start begins discovery in the background. onMatch is called for every
// advertisement matching the identity; onStop is called once when the scan
// ends, with a nil error if it was stopped on purpose. Starting while a
// scan is running is a no-op.
func (s *Scanner) Start(ctx context.Context, onMatch func(Device), onStop func(error)) error {
	if !s.perms.Granted() {
		return fmt.Errorf("ble: start scan: %w", ErrPermissionDenied)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		slog.Debug("[SCAN] already scanning")
		return nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s.scanID++
	id := s.scanID
	s.cancel = cancel
	s.scanning = true
	slog.Info("[SCAN] started", "target", s.identity.String())

	go func() {
		err := s.adapter.Scan(scanCtx, s.identity.watched(), func(d Device) {
			if s.identity.Match(d) {
				onMatch(d)
			}
		})
		stopped := scanCtx.Err() != nil
		cancel()

		s.mu.Lock()
		if s.scanID == id {
			s.scanning = false
			s.cancel = nil
		}
		s.mu.Unlock()

		if stopped {
			err = nil
		} else if err == nil {
			err = fmt.Errorf("ble: scan ended unexpectedly")
		}
		if onStop != nil {
			onStop(err)
		}
	}()
	return nil
}

// Stop ends discovery. It is safe to call at any time and more than once.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanning {
		return
	}
	s.cancel()
	s.cancel = nil
	s.scanning = false
	slog.Info("[SCAN] stopped")
}

// Scanning reports whether a scan is in progress.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// ScanForDevices lists the distinct peripherals matching identity seen
// within timeout.
func ScanForDevices(adapter Adapter, identity Identity, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	err := adapter.Scan(ctx, identity.watched(), func(d Device) {
		if !identity.Match(d) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		key := strings.ToUpper(d.Address)
		if seen[key] {
			return
		}
		seen[key] = true
		devices = append(devices, d)
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}
