package ble

import "fmt"

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateServicesDiscovering
	StateAuthenticating
	StateEnablingNotifications
	StateReady
	StateDisconnected
	StateRetrying
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateScanning:              "scanning",
	StateConnecting:            "connecting",
	StateServicesDiscovering:   "services-discovering",
	StateAuthenticating:        "authenticating",
	StateEnablingNotifications: "enabling-notifications",
	StateReady:                 "ready",
	StateDisconnected:          "disconnected",
	StateRetrying:              "retrying",
	StateFailed:                "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Linked reports whether a link to the peripheral is established.
func (s State) Linked() bool {
	switch s {
	case StateServicesDiscovering, StateAuthenticating, StateEnablingNotifications, StateReady:
		return true
	}
	return false
}

// Found reports whether the peripheral has been selected from a scan.
func (s State) Found() bool {
	switch s {
	case StateIdle, StateScanning, StateDisconnected, StateFailed:
		return false
	}
	return true
}
