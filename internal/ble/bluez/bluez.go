// Package bluez drives host adapter housekeeping over the BlueZ D-Bus API:
// power-cycling the adapter, dropping cached peer records and checking
// whether the process may use the radio at all.
package bluez

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"

	errDoesNotExist = "org.bluez.Error.DoesNotExist"
	errAccessDenied = "org.freedesktop.DBus.Error.AccessDenied"
)

// Bus is the part of *dbus.Conn used here.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Adapter is one BlueZ host adapter, e.g. hci0.
type Adapter struct {
	bus  Bus
	name string
	path dbus.ObjectPath
}

// Open connects to the system bus and returns the named adapter. The bus
// connection is shared process-wide and is not closed.
func Open(name string) (*Adapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system bus: %w", err)
	}
	return New(conn, name), nil
}

// New returns the named adapter on bus.
func New(bus Bus, name string) *Adapter {
	if name == "" {
		name = "hci0"
	}
	return &Adapter{bus: bus, name: name, path: dbus.ObjectPath("/org/bluez/" + name)}
}

func (a *Adapter) object() dbus.BusObject {
	return a.bus.Object(busName, a.path)
}

// SetPowered switches the adapter radio on or off.
func (a *Adapter) SetPowered(on bool) error {
	if err := a.object().SetProperty(adapterIface+".Powered", dbus.MakeVariant(on)); err != nil {
		return fmt.Errorf("bluez: set %s powered=%v: %w", a.name, on, err)
	}
	slog.Debug("[BLE] adapter power set", "adapter", a.name, "powered", on)
	return nil
}

// Powered reports whether the adapter radio is on.
func (a *Adapter) Powered() (bool, error) {
	v, err := a.object().GetProperty(adapterIface + ".Powered")
	if err != nil {
		return false, fmt.Errorf("bluez: read %s powered: %w", a.name, err)
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: property Powered has unexpected type %T", v.Value())
	}
	return on, nil
}

// Refresh removes the cached device record for address so the next
// connection performs a fresh service discovery. A device BlueZ does not
// know about is not an error.
func (a *Adapter) Refresh(address string) error {
	call := a.object().Call(adapterIface+".RemoveDevice", 0, DevicePath(a.name, address))
	if call.Err != nil {
		if isDBusError(call.Err, errDoesNotExist) {
			return nil
		}
		return fmt.Errorf("bluez: remove device %s: %w", address, call.Err)
	}
	slog.Info("[BLE] dropped cached device record", "address", address)
	return nil
}

// DevicePath converts a MAC address to the BlueZ object path of the device.
func DevicePath(adapter, address string) dbus.ObjectPath {
	dev := strings.ToUpper(strings.ReplaceAll(address, ":", "_"))
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, dev))
}

func isDBusError(err error, name string) bool {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name == name
	}
	var dp *dbus.Error
	if errors.As(err, &dp) {
		return dp.Name == name
	}
	return false
}

// Authority grants radio access while the adapter object is readable. A
// missing adapter or a D-Bus policy denial both count as not granted.
//
// Granted never touches the bus: it returns the last check result and
// refreshes it in the background once it is older than the poll interval.
type Authority struct {
	adapter  *Adapter
	interval time.Duration

	granted  atomic.Bool
	checked  atomic.Int64 // unix nanos of the last check
	checking atomic.Bool

	mu      sync.Mutex
	waiting bool
	stop    chan struct{}
	closed  bool
}

// NewAuthority creates an Authority that polls every interval while
// waiting for access. It checks the adapter once before returning.
func NewAuthority(adapter *Adapter, interval time.Duration) *Authority {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	au := &Authority{adapter: adapter, interval: interval, stop: make(chan struct{})}
	au.store(au.check())
	return au
}

// Granted reports whether the adapter could be used at the last check.
func (au *Authority) Granted() bool {
	if time.Since(time.Unix(0, au.checked.Load())) >= au.interval && au.checking.CompareAndSwap(false, true) {
		go func() {
			defer au.checking.Store(false)
			au.store(au.check())
		}()
	}
	return au.granted.Load()
}

func (au *Authority) store(granted bool) {
	au.granted.Store(granted)
	au.checked.Store(time.Now().UnixNano())
}

// check reads an adapter property over D-Bus.
func (au *Authority) check() bool {
	_, err := au.adapter.object().GetProperty(adapterIface + ".Address")
	if err == nil {
		return true
	}
	if isDBusError(err, errAccessDenied) {
		slog.Warn("[BLE] bluetooth access denied by D-Bus policy", "adapter", au.adapter.name)
	} else {
		slog.Debug("[BLE] adapter unavailable", "adapter", au.adapter.name, "error", err)
	}
	return false
}

// RequestAccess waits in the background until access is granted and then
// calls resume once. Concurrent requests share one waiter.
func (au *Authority) RequestAccess(resume func()) {
	au.mu.Lock()
	defer au.mu.Unlock()
	if au.waiting || au.closed {
		return
	}
	au.waiting = true
	slog.Info("[BLE] waiting for bluetooth access", "adapter", au.adapter.name, "interval", au.interval)

	go func() {
		ticker := time.NewTicker(au.interval)
		defer ticker.Stop()
		for {
			select {
			case <-au.stop:
				return
			case <-ticker.C:
			}
			granted := au.check()
			au.store(granted)
			if !granted {
				continue
			}
			au.mu.Lock()
			closed := au.closed
			au.waiting = false
			au.mu.Unlock()
			if closed {
				return
			}
			slog.Info("[BLE] bluetooth access granted", "adapter", au.adapter.name)
			resume()
			return
		}
	}()
}

// Close stops any pending wait.
func (au *Authority) Close() {
	au.mu.Lock()
	defer au.mu.Unlock()
	if au.closed {
		return
	}
	au.closed = true
	close(au.stop)
}
