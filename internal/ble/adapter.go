// Package ble manages the link to the LED controller peripheral: scanning,
// connecting with bounded retries and adapter power-cycle recovery,
// authenticating, enabling notifications and gating command writes.
package ble

import "context"

// StandardCCCD is the Bluetooth SIG client characteristic configuration
// descriptor used to enable notifications.
const StandardCCCD = "00002902-0000-1000-8000-00805f9b34fb"

// ServiceIDs are the fixed GATT identifiers the controller exposes.
type ServiceIDs struct {
	Service string
	Auth    string
	Write   string
	Notify  string
	CCCD    string
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// EnableNotifications writes the enable value to the given descriptor
	// and registers callback for incoming notifications.
	EnableNotifications(descriptor string, callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
	// Services lists the watched service UUIDs found in the advertisement.
	Services []string
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to onResult until ctx is cancelled or
	// the scan fails. services lists the UUIDs to report in Device.Services.
	Scan(ctx context.Context, services []string, onResult func(Device)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// Radio controls power of the local adapter. It is used to power-cycle
// the radio when the link layer keeps failing to establish.
type Radio interface {
	SetPowered(powered bool) error
}

// NopRadio is a Radio for hosts where the adapter power cannot be toggled.
type NopRadio struct{}

func (NopRadio) SetPowered(bool) error { return nil }

// CacheRefresher drops the host's cached GATT table for a peripheral.
// Implementations are platform specific and best effort.
type CacheRefresher interface {
	Refresh(address string) error
}

// PermissionAuthority gates every radio operation.
type PermissionAuthority interface {
	// Granted reports whether radio operations are currently allowed.
	Granted() bool
	// RequestAccess hands control to the external permission flow, which
	// calls resume once access has been obtained.
	RequestAccess(resume func())
}

// AllowAll grants every request.
type AllowAll struct{}

func (AllowAll) Granted() bool          { return true }
func (AllowAll) RequestAccess(func()) {}

// Supervisor performs the fatal recovery action.
type Supervisor interface {
	// Restart restarts the whole process. It may not return.
	Restart()
}

// Observer receives state transitions and raw notifications. All calls are
// made from the manager's run loop, one at a time, so an Observer must not
// call Manager.Write synchronously.
type Observer interface {
	OnStateChange(from, to State)
	OnNotification(data []byte)
}
