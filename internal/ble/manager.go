package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures retry policy and settle delays.
type Options struct {
	MaxRetries     int           // consecutive link failures tolerated before a restart
	RetryDelay     time.Duration // wait before power-cycling the adapter
	AdapterOff     time.Duration // how long the adapter stays powered off
	AdapterSettle  time.Duration // wait after power-on before reconnecting
	ConnectTimeout time.Duration // per connection attempt
	AuthSettle     time.Duration // after the auth key write
	NotifySettle   time.Duration // after enabling notifications
	RescanDelay    time.Duration // after a scan or adapter enable failure
}

// DefaultOptions returns the timings the controller firmware was tuned for.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     4,
		RetryDelay:     2 * time.Second,
		AdapterOff:     2 * time.Second,
		AdapterSettle:  1 * time.Second,
		ConnectTimeout: 10 * time.Second,
		AuthSettle:     500 * time.Millisecond,
		NotifySettle:   500 * time.Millisecond,
		RescanDelay:    2 * time.Second,
	}
}

// ManagerConfig wires a Manager to its collaborators. Adapter, Supervisor
// and Observer are required.
type ManagerConfig struct {
	Adapter    Adapter
	Identity   Identity
	IDs        ServiceIDs
	AuthKey    []byte
	Radio      Radio               // defaults to NopRadio
	Refresher  CacheRefresher      // optional
	Perms      PermissionAuthority // defaults to AllowAll
	Supervisor Supervisor
	Observer   Observer
	Options    Options
}

type event interface{}

type evStart struct{}

type evScanMatch struct{ dev Device }

type evScanStopped struct{ err error }

type evDisconnected struct{ gen uint64 }

type evNotification struct {
	gen  uint64
	data []byte
}

type evWrite struct{ reply chan writeGrant }

type writeGrant struct {
	char Characteristic
	err  error
}

// evResult delivers the outcome of a timer or an off-loop radio operation.
// token identifies the pending step; results for superseded steps are
// discarded.
type evResult struct {
	token   uint64
	err     error
	then    func(error)
	discard func()
}

// Manager owns the link lifecycle. All state lives on the goroutine
// running Run; every other method only posts events to it.
type Manager struct {
	adapter    Adapter
	scanner    *Scanner
	seq        *Sequencer
	radio      Radio
	refresher  CacheRefresher
	perms      PermissionAuthority
	supervisor Supervisor
	observer   Observer
	opts       Options

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	state   atomic.Int32
	retries atomic.Int32

	watchMu sync.Mutex
	changed chan struct{}

	// Owned by the run loop.
	ctx          context.Context
	cur          State
	retryCount   int
	enabled      bool
	isConnecting bool
	device       *Device
	conn         Connection
	desc         *ServiceDescriptor
	gen          uint64 // link generation, guards link callbacks
	pending      uint64 // step token, guards timers and async results
	timer        *time.Timer
	restarted    bool
	refreshAddr  string // peer to drop from the host cache before the next retry
	rescan       bool   // the next retry must scan, the host no longer knows the peer
}

// NewManager creates a Manager in StateIdle.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("ble: manager requires an adapter")
	}
	if cfg.Supervisor == nil {
		return nil, errors.New("ble: manager requires a supervisor")
	}
	if cfg.Observer == nil {
		return nil, errors.New("ble: manager requires an observer")
	}
	if cfg.Radio == nil {
		cfg.Radio = NopRadio{}
	}
	if cfg.Perms == nil {
		cfg.Perms = AllowAll{}
	}
	if cfg.Options.MaxRetries <= 0 {
		cfg.Options.MaxRetries = 4
	}
	if cfg.Options.ConnectTimeout <= 0 {
		cfg.Options.ConnectTimeout = 10 * time.Second
	}

	return &Manager{
		adapter:    cfg.Adapter,
		scanner:    NewScanner(cfg.Adapter, cfg.Identity, cfg.Perms),
		seq:        NewSequencer(cfg.IDs, cfg.AuthKey),
		radio:      cfg.Radio,
		refresher:  cfg.Refresher,
		perms:      cfg.Perms,
		supervisor: cfg.Supervisor,
		observer:   cfg.Observer,
		opts:       cfg.Options,
		events:     make(chan event, 64),
		done:       make(chan struct{}),
		changed:    make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Close is called. It
// starts scanning immediately.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("ble: manager already running")
	}
	m.ctx = ctx
	defer m.shutdown()

	m.handle(evStart{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// Resume restarts scanning after the external permission flow succeeded
// or after an explicit stop. It is a no-op while a link is being set up.
func (m *Manager) Resume() {
	m.post(evStart{})
}

// Close stops the run loop and tears down the link. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Retries returns the number of consecutive link failures since the last
// time the link was ready.
func (m *Manager) Retries() int {
	return int(m.retries.Load())
}

// WaitFor blocks until the manager reaches want. It fails early with
// ErrRetryBudgetExhausted if the manager gives up.
func (m *Manager) WaitFor(ctx context.Context, want State) error {
	for {
		m.watchMu.Lock()
		ch := m.changed
		m.watchMu.Unlock()

		switch s := m.State(); {
		case s == want:
			return nil
		case s == StateFailed:
			return ErrRetryBudgetExhausted
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		}
	}
}

// Write sends an encoded command to the peripheral. Writes are only
// accepted in StateReady; otherwise ErrNotReady is returned and no radio
// operation takes place.
func (m *Manager) Write(ctx context.Context, payload []byte) error {
	reply := make(chan writeGrant, 1)
	select {
	case m.events <- evWrite{reply: reply}:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	var g writeGrant
	select {
	case g = <-reply:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if g.err != nil {
		return g.err
	}
	if err := g.char.Write(payload); err != nil {
		return fmt.Errorf("ble: write command: %w", err)
	}
	slog.Debug("[BLE] command written", "payload", string(payload))
	return nil
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) handle(ev event) {
	switch ev := ev.(type) {
	case evStart:
		switch m.cur {
		case StateIdle, StateDisconnected:
			m.startScan()
		default:
			slog.Debug("[BLE] start ignored", "state", m.cur)
		}

	case evScanMatch:
		m.accept(ev.dev)

	case evScanStopped:
		if ev.err == nil || m.cur != StateScanning || m.scanner.Scanning() {
			return
		}
		slog.Warn("[SCAN] scan failed, restarting", "error", ev.err, "delay", m.opts.RescanDelay)
		m.after(m.opts.RescanDelay, m.startScan)

	case evResult:
		if ev.token != m.pending {
			if ev.discard != nil {
				ev.discard()
			}
			return
		}
		ev.then(ev.err)

	case evDisconnected:
		if ev.gen != m.gen || m.conn == nil {
			return
		}
		slog.Info("[BLE] disconnected", "state", m.cur)
		m.teardown()

	case evNotification:
		if ev.gen != m.gen {
			return
		}
		m.observer.OnNotification(ev.data)

	case evWrite:
		ev.reply <- m.grantWrite()
	}
}

func (m *Manager) setState(s State) {
	if s == m.cur {
		return
	}
	from := m.cur
	m.cur = s
	m.state.Store(int32(s))

	m.watchMu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.watchMu.Unlock()

	slog.Debug("[BLE] state change", "from", from, "to", s)
	m.observer.OnStateChange(from, s)
}

// after runs fn on the loop once d has elapsed, unless superseded first.
// Only one wait is pending at a time.
func (m *Manager) after(d time.Duration, fn func()) {
	m.stopTimer()
	token := m.pending
	m.timer = time.AfterFunc(d, func() {
		m.post(evResult{token: token, then: func(error) { fn() }})
	})
}

// spawn runs op off the loop and delivers its error to then on the loop.
// If the step is superseded meanwhile, discard runs instead.
func (m *Manager) spawn(op func() error, then func(error), discard func()) {
	token := m.pending
	go func() {
		err := op()
		m.post(evResult{token: token, err: err, then: then, discard: discard})
	}()
}

// supersede cancels the pending wait and any in-flight step.
func (m *Manager) supersede() {
	m.pending++
	m.stopTimer()
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// allowed checks the permission authority before a radio operation.
func (m *Manager) allowed(op string) bool {
	if m.perms.Granted() {
		return true
	}
	m.permissionDenied(op)
	return false
}

func (m *Manager) permissionDenied(op string) {
	slog.Warn("[BLE] permission denied, deferring to permission flow", "operation", op, "error", ErrPermissionDenied)
	m.supersede()
	m.scanner.Stop()
	m.closeLink()
	m.isConnecting = false
	m.setState(StateIdle)
	m.perms.RequestAccess(m.Resume)
}

func (m *Manager) startScan() {
	m.isConnecting = false
	m.rescan = false
	m.refreshAddr = ""
	if !m.allowed("scan") {
		return
	}
	if !m.enabled {
		if err := m.adapter.Enable(); err != nil {
			slog.Error("[BLE] enable adapter failed", "error", err, "delay", m.opts.RescanDelay)
			m.setState(StateDisconnected)
			m.after(m.opts.RescanDelay, m.startScan)
			return
		}
		m.enabled = true
	}

	m.setState(StateScanning)
	err := m.scanner.Start(m.ctx,
		func(d Device) { m.post(evScanMatch{dev: d}) },
		func(err error) { m.post(evScanStopped{err: err}) })
	if errors.Is(err, ErrPermissionDenied) {
		m.permissionDenied("scan")
	}
}

// accept takes the first matching scan result. Results arriving while a
// connection attempt is outstanding are ignored.
func (m *Manager) accept(d Device) {
	if m.isConnecting || m.cur != StateScanning {
		slog.Debug("[SCAN] ignoring match, connection attempt in flight", "address", d.Address)
		return
	}
	m.isConnecting = true
	m.device = &d
	slog.Info("[SCAN] selected device", "address", d.Address, "name", d.Name, "rssi", d.RSSI)
	m.scanner.Stop()
	m.connect()
}

func (m *Manager) connect() {
	if !m.allowed("connect") {
		return
	}
	m.setState(StateConnecting)

	addr := m.device.Address
	timeout := m.opts.ConnectTimeout
	var conn Connection
	m.spawn(func() error {
		ctx, cancel := context.WithTimeout(m.ctx, timeout)
		defer cancel()
		c, err := m.adapter.Connect(ctx, addr)
		conn = c
		return err
	}, func(err error) {
		if err != nil {
			m.linkFailed(err)
			return
		}
		m.linked(conn)
	}, func() {
		if conn != nil {
			_ = conn.Disconnect()
		}
	})
}

func (m *Manager) linked(conn Connection) {
	m.gen++
	gen := m.gen
	m.conn = conn
	conn.OnDisconnect(func() { m.post(evDisconnected{gen: gen}) })
	slog.Info("[BLE] connected", "address", m.device.Address)

	m.setState(StateServicesDiscovering)
	if !m.allowed("discover services") {
		return
	}
	var desc *ServiceDescriptor
	m.spawn(func() error {
		d, err := m.seq.Discover(conn)
		desc = d
		return err
	}, func(err error) {
		if err != nil {
			slog.Warn("[BLE] service discovery failed", "error", err)
			m.teardown()
			return
		}
		m.desc = desc
		m.authenticate()
	}, nil)
}

func (m *Manager) authenticate() {
	m.setState(StateAuthenticating)
	if !m.allowed("authenticate") {
		return
	}
	desc := m.desc
	m.spawn(func() error {
		return m.seq.Authenticate(desc)
	}, func(err error) {
		if err != nil {
			slog.Error("[SETUP] authentication failed, dropping link", "error", err)
			m.teardown()
			return
		}
		m.after(m.opts.AuthSettle, m.enableNotifications)
	}, nil)
}

func (m *Manager) enableNotifications() {
	m.setState(StateEnablingNotifications)
	if !m.allowed("enable notifications") {
		return
	}
	desc := m.desc
	gen := m.gen
	m.spawn(func() error {
		return m.seq.EnableNotifications(desc, func(data []byte) {
			m.post(evNotification{gen: gen, data: data})
		})
	}, func(err error) {
		if err != nil {
			slog.Warn("[SETUP] notifications unavailable, continuing without them", "error", err)
		}
		m.after(m.opts.NotifySettle, m.requestSync)
	}, nil)
}

func (m *Manager) requestSync() {
	if !m.allowed("request sync") {
		return
	}
	desc := m.desc
	m.spawn(func() error {
		return m.seq.RequestSync(desc)
	}, func(err error) {
		if err != nil {
			slog.Warn("[SETUP] state sync request failed", "error", err)
		}
		m.retryCount = 0
		m.retries.Store(0)
		m.setState(StateReady)
		slog.Info("[BLE] ready")
	}, nil)
}

func (m *Manager) grantWrite() writeGrant {
	if m.cur != StateReady || m.desc == nil {
		slog.Warn("[BLE] write rejected", "state", m.cur)
		return writeGrant{err: ErrNotReady}
	}
	if !m.allowed("write") {
		return writeGrant{err: ErrPermissionDenied}
	}
	return writeGrant{char: m.desc.Command}
}

// linkFailed handles a failed connection attempt: a bounded number of
// retries with an adapter power-cycle each, then a process restart.
func (m *Manager) linkFailed(err error) {
	status := linkStatus(err)
	if Transient(status) {
		slog.Warn("[BLE] connection error", "status", status, "reason", StatusText(status), "error", err)
	} else {
		slog.Error("[BLE] connection error", "status", status, "reason", StatusText(status), "error", err)
	}

	m.supersede()
	m.closeLink()

	refresh := status == StatusGattError && m.refresher != nil && m.device != nil

	if m.retryCount >= m.opts.MaxRetries {
		if refresh {
			refresher, addr := m.refresher, m.device.Address
			go func() {
				if err := refresher.Refresh(addr); err != nil {
					slog.Debug("[BLE] cache refresh failed", "address", addr, "error", err)
				}
			}()
		}
		m.fail()
		return
	}
	if refresh {
		m.refreshAddr = m.device.Address
	}
	m.retryCount++
	m.retries.Store(int32(m.retryCount))
	m.setState(StateRetrying)
	slog.Info("[BLE] retrying connection", "attempt", m.retryCount, "max", m.opts.MaxRetries)

	m.after(m.opts.RetryDelay, m.powerCycle)
}

// powerCycle drops the host's cached peer if requested, then toggles the
// adapter and reconnects. A refresh removes the peer from the host, so the
// retry must rediscover it by scanning instead of connecting directly.
func (m *Manager) powerCycle() {
	if !m.allowed("power-cycle adapter") {
		return
	}
	addr := m.refreshAddr
	if addr == "" {
		m.cycleRadio()
		return
	}
	m.refreshAddr = ""
	m.rescan = true
	refresher := m.refresher
	slog.Info("[BLE] refreshing cached services", "address", addr)
	m.spawn(func() error {
		return refresher.Refresh(addr)
	}, func(err error) {
		if err != nil {
			slog.Debug("[BLE] cache refresh failed", "address", addr, "error", err)
		}
		m.cycleRadio()
	}, nil)
}

func (m *Manager) cycleRadio() {
	slog.Info("[BLE] power-cycling adapter")
	m.spawn(func() error {
		return m.radio.SetPowered(false)
	}, func(err error) {
		if err != nil {
			slog.Warn("[BLE] adapter power off failed", "error", err)
		}
		m.after(m.opts.AdapterOff, func() {
			m.spawn(func() error {
				return m.radio.SetPowered(true)
			}, func(err error) {
				if err != nil {
					slog.Warn("[BLE] adapter power on failed", "error", err)
				}
				m.after(m.opts.AdapterSettle, m.reconnect)
			}, nil)
		})
	}, nil)
}

// reconnect retries the selected device, or rescans if the host forgot it.
func (m *Manager) reconnect() {
	if !m.rescan {
		m.connect()
		return
	}
	slog.Info("[BLE] rediscovering device after cache refresh")
	m.device = nil
	m.startScan()
}

func (m *Manager) fail() {
	m.setState(StateFailed)
	slog.Error("[BLE] giving up, device probably has a bad BLE implementation", "error", ErrRetryBudgetExhausted)
	if m.restarted {
		return
	}
	m.restarted = true
	m.supervisor.Restart()
}

// teardown discards the link and resumes scanning.
func (m *Manager) teardown() {
	m.supersede()
	m.closeLink()
	m.setState(StateDisconnected)
	m.startScan()
}

// closeLink drops every per-connection handle before disconnecting, so a
// late callback can never reach the old link.
func (m *Manager) closeLink() {
	conn := m.conn
	m.conn = nil
	m.desc = nil
	m.gen++
	if conn != nil {
		go func() {
			if err := conn.Disconnect(); err != nil {
				slog.Debug("[BLE] disconnect failed", "error", err)
			}
		}()
	}
}

func (m *Manager) shutdown() {
	m.closeOnce.Do(func() { close(m.done) })
	m.supersede()
	m.scanner.Stop()
	if m.conn != nil {
		if err := m.conn.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect on shutdown failed", "error", err)
		}
	}
	m.conn = nil
	m.desc = nil
	m.gen++
	m.setState(StateIdle)
}
