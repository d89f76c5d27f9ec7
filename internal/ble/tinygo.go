package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On Linux it talks to BlueZ,
// on macOS addresses are CoreBluetoothUUIDs rather than MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by upper-case address
}

// NewTinyGoAdapter creates an adapter backed by the default host adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler is the only disconnect signal tinygo gives
	// us; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := strings.ToUpper(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[key]
		if ok {
			delete(a.connections, key)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, services []string, onResult func(Device)) error {
	watch := make([]bluetooth.UUID, 0, len(services))
	for _, s := range services {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		watch = append(watch, u)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		d := Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		}
		for i, u := range watch {
			if result.HasServiceUUID(u) {
				d.Services = append(d.Services, services[i])
			}
		}
		onResult(d)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo's Connect blocks with its own timeout; ctx lets the caller
	// give up earlier.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// A late success is torn down so the peer is not left linked.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		status := StatusGattError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = StatusConnTimeout
		}
		return nil, &LinkError{Status: status, Err: fmt.Errorf("connect to %s: %w", address, ctx.Err())}
	case result := <-ch:
		if result.err != nil {
			return nil, &LinkError{Status: StatusGattError, Err: fmt.Errorf("connect to %s: %w", address, result.err)}
		}
		conn := &tinyGoConnection{device: &result.device}

		a.mu.Lock()
		a.connections[strings.ToUpper(address)] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

// Write uses write-without-response, the only write every tinygo backend
// implements. The firmware acknowledges state changes by notification.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

// EnableNotifications only supports the standard CCCD; tinygo writes it
// itself and exposes no raw descriptor access.
func (c *tinyGoCharacteristic) EnableNotifications(descriptor string, cb func([]byte)) error {
	if !strings.EqualFold(descriptor, StandardCCCD) {
		return fmt.Errorf("ble: descriptor %s not supported, only %s", descriptor, StandardCCCD)
	}
	return c.char.EnableNotifications(func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
