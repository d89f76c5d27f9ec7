package ble

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/ledlink/internal/ble/protocol"
)

// ServiceDescriptor holds the characteristics discovered for one
// connection. It is discarded on every disconnect.
type ServiceDescriptor struct {
	Auth    Characteristic // nil if the peripheral does not expose it
	Command Characteristic
	Notify  Characteristic // nil if notifications are unavailable
}

// Sequencer performs the post-connect steps: service discovery, writing
// the pre-shared key, enabling notifications and requesting a full state
// sync. Each step is a single blocking radio operation; the manager runs
// them off its loop and inserts the settle delays between them.
type Sequencer struct {
	ids     ServiceIDs
	authKey []byte
}

// NewSequencer creates a Sequencer for the given identifiers and key.
func NewSequencer(ids ServiceIDs, authKey []byte) *Sequencer {
	if ids.CCCD == "" {
		ids.CCCD = StandardCCCD
	}
	key := make([]byte, len(authKey))
	copy(key, authKey)
	return &Sequencer{ids: ids, authKey: key}
}

// Discover resolves the characteristics used by the controller. Only the
// command characteristic is mandatory.
func (s *Sequencer) Discover(conn Connection) (*ServiceDescriptor, error) {
	desc := &ServiceDescriptor{}

	cmd, err := conn.DiscoverCharacteristic(s.ids.Service, s.ids.Write)
	if err != nil {
		return nil, fmt.Errorf("ble: discover command characteristic: %w", err)
	}
	desc.Command = cmd

	if auth, err := conn.DiscoverCharacteristic(s.ids.Service, s.ids.Auth); err != nil {
		slog.Warn("[SETUP] auth characteristic not found", "uuid", s.ids.Auth, "error", err)
	} else {
		desc.Auth = auth
	}

	if notify, err := conn.DiscoverCharacteristic(s.ids.Service, s.ids.Notify); err != nil {
		slog.Warn("[SETUP] notify characteristic not found", "uuid", s.ids.Notify, "error", err)
	} else {
		desc.Notify = notify
	}

	slog.Debug("[SETUP] services discovered",
		"service", s.ids.Service,
		"auth", desc.Auth != nil,
		"notify", desc.Notify != nil)
	return desc, nil
}

// Authenticate writes the pre-shared key to the auth characteristic.
func (s *Sequencer) Authenticate(desc *ServiceDescriptor) error {
	if desc.Auth == nil {
		return &SetupError{Step: StepAuth, Err: errors.New("auth characteristic not found")}
	}
	if err := desc.Auth.Write(s.authKey); err != nil {
		return &SetupError{Step: StepAuth, Err: err}
	}
	slog.Debug("[SETUP] authentication key written")
	return nil
}

// EnableNotifications subscribes to the notify characteristic.
func (s *Sequencer) EnableNotifications(desc *ServiceDescriptor, onData func([]byte)) error {
	if desc.Notify == nil {
		return &SetupError{Step: StepNotifications, Err: fmt.Errorf("characteristic %s not found", s.ids.Notify)}
	}
	if err := desc.Notify.EnableNotifications(s.ids.CCCD, onData); err != nil {
		return &SetupError{Step: StepNotifications, Err: err}
	}
	slog.Debug("[SETUP] notifications enabled", "uuid", s.ids.Notify)
	return nil
}

// RequestSync asks the peripheral to re-broadcast its full state.
func (s *Sequencer) RequestSync(desc *ServiceDescriptor) error {
	payload, err := protocol.Encode(protocol.RequestSync())
	if err != nil {
		return &SetupError{Step: StepSync, Err: err}
	}
	if err := desc.Command.Write(payload); err != nil {
		return &SetupError{Step: StepSync, Err: err}
	}
	return nil
}
