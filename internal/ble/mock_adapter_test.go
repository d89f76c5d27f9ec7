package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testIDs = ServiceIDs{
	Service: "35e2384d-09ba-40ec-8cc2-a491e7bcd763",
	Auth:    "e58b4b34-daa6-4a79-8a4c-50d63e6e767f",
	Write:   "9d5cb5f2-5eb2-4b7c-a5d4-21e61c9c6f36",
	Notify:  "a9248655-7f1b-4e18-bf36-ad1ee859983f",
	CCCD:    StandardCCCD,
}

const testAddr = "B0:B2:1C:F8:98:0E"

var testDevice = Device{Name: "ESP32-LED", Address: testAddr, RSSI: -50, Services: []string{testIDs.Service}}

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu         sync.Mutex
	writes     [][]byte
	writeErr   error
	descriptor string
	callback   func([]byte)
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) EnableNotifications(descriptor string, cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptor = descriptor
	c.callback = cb
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *mockCharacteristic) subscribedDescriptor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptor
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	chars        map[string]*mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		chars: map[string]*mockCharacteristic{
			testIDs.Auth:   {},
			testIDs.Write:  {},
			testIDs.Notify: {},
		},
	}
}

func (c *mockConnection) char(uuid string) *mockCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chars[uuid]
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if serviceUUID != testIDs.Service {
		return nil, fmt.Errorf("mock: unknown service UUID %q", serviceUUID)
	}
	ch, ok := c.chars[charUUID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
	return ch, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu          sync.Mutex
	devices     []Device
	results     chan Device    // extra results delivered while scanning
	connectErrs []error        // consumed per Connect call; nil means success
	connectGate chan struct{}  // if set, Connect waits for it
	newConn     func() *mockConnection
	scans       int
	connects    int
	connected   []string
	connection  *mockConnection // most recent connection for test assertions
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices: devices,
		newConn: newMockConnection,
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, _ []string, onResult func(Device)) error {
	a.mu.Lock()
	a.scans++
	devices := append([]Device(nil), a.devices...)
	results := a.results
	a.mu.Unlock()

	for _, d := range devices {
		onResult(d)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-results:
			onResult(d)
		}
	}
}

func (a *mockAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	a.connects++
	a.connected = append(a.connected, address)
	var err error
	if len(a.connectErrs) > 0 {
		err = a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
	}
	gate := a.connectGate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &LinkError{Status: StatusConnTimeout, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}

	conn := a.newConn()
	a.mu.Lock()
	a.connection = conn
	a.mu.Unlock()
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) counts() (scans, connects int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans, a.connects
}

// mockRadio counts power transitions.
type mockRadio struct {
	mu   sync.Mutex
	offs int
	ons  int
}

func (r *mockRadio) SetPowered(powered bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if powered {
		r.ons++
	} else {
		r.offs++
	}
	return nil
}

func (r *mockRadio) cycles() (offs, ons int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offs, r.ons
}

// mockSupervisor counts restarts.
type mockSupervisor struct {
	mu       sync.Mutex
	restarts int
}

func (s *mockSupervisor) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
}

func (s *mockSupervisor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// mockPerms is a switchable permission authority.
type mockPerms struct {
	mu       sync.Mutex
	granted  bool
	requests int
	resume   func()
}

func (p *mockPerms) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

func (p *mockPerms) RequestAccess(resume func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.resume = resume
}

// grant allows access and runs the resume callback from the last request.
func (p *mockPerms) grant() {
	p.mu.Lock()
	p.granted = true
	resume := p.resume
	p.mu.Unlock()
	if resume != nil {
		resume()
	}
}

func (p *mockPerms) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// mockRefresher records cache refresh requests.
type mockRefresher struct {
	mu        sync.Mutex
	addresses []string
}

func (r *mockRefresher) Refresh(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses = append(r.addresses, address)
	return nil
}

func (r *mockRefresher) refreshed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.addresses...)
}

// recordingObserver records transitions and notifications.
type recordingObserver struct {
	mu            sync.Mutex
	states        []State
	notifications []string
}

func (o *recordingObserver) OnStateChange(_, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *recordingObserver) OnNotification(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifications = append(o.notifications, string(data))
}

func (o *recordingObserver) seen(s State) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, st := range o.states {
		if st == s {
			n++
		}
	}
	return n
}

func (o *recordingObserver) received() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.notifications...)
}

func zeroDelayOpts() Options {
	return Options{
		MaxRetries:     4,
		ConnectTimeout: time.Second,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func linkErr(status int) error {
	return &LinkError{Status: status, Err: errors.New("mock link failure")}
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
