package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the permission authority refused a radio
	// operation. It is never retried internally.
	ErrPermissionDenied = errors.New("ble: permission denied")
	// ErrNotReady is returned for writes attempted outside StateReady.
	ErrNotReady = errors.New("ble: link not ready")
	// ErrRetryBudgetExhausted is the fatal outcome that triggers a restart.
	ErrRetryBudgetExhausted = errors.New("ble: retry budget exhausted")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ble: manager closed")
)

// Link-layer status codes reported by the host stack.
const (
	StatusSuccess           = 0x00
	StatusConnTimeout       = 0x08
	StatusTerminatePeerUser = 0x13
	StatusL2CAPFailure      = 0x22
	StatusFailEstablish     = 0x3E
	// StatusGattError is the catch-all connection error. It usually means
	// the host's cached service table for the peer is stale.
	StatusGattError = 133
)

// StatusText describes a link-layer status for logs.
func StatusText(status int) string {
	switch status {
	case StatusSuccess:
		return "success"
	case StatusConnTimeout:
		return "connection timeout"
	case StatusTerminatePeerUser:
		return "connection terminated by peer user"
	case StatusL2CAPFailure:
		return "L2CAP failure"
	case StatusFailEstablish:
		return "connection failed to establish"
	case StatusGattError:
		return "unknown connection error"
	default:
		return fmt.Sprintf("unknown error %d", status)
	}
}

// Transient reports whether status is one of the known flaky link
// failures. Every failure takes the same retry path; this only affects
// logging.
func Transient(status int) bool {
	switch status {
	case StatusConnTimeout, StatusTerminatePeerUser, StatusL2CAPFailure, StatusFailEstablish, StatusGattError:
		return true
	}
	return false
}

// LinkError is a failed link-layer operation.
type LinkError struct {
	Status int
	Err    error
}

func (e *LinkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ble: link error %d (%s)", e.Status, StatusText(e.Status))
	}
	return fmt.Sprintf("ble: link error %d (%s): %v", e.Status, StatusText(e.Status), e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// linkStatus extracts the status from err, defaulting to StatusGattError
// for errors that carry none.
func linkStatus(err error) int {
	var le *LinkError
	if errors.As(err, &le) {
		return le.Status
	}
	return StatusGattError
}

// SetupStep names a post-connect step.
type SetupStep string

const (
	StepAuth          SetupStep = "auth"
	StepNotifications SetupStep = "notifications"
	StepSync          SetupStep = "sync"
)

// SetupError is a failed post-connect step.
type SetupError struct {
	Step SetupStep
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("ble: setup step %s failed: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
