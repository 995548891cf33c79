// Package connection owns the lifecycle of the link to one soldering iron:
// connect, resolve, stream telemetry, write the setpoint, disconnect.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/bledb"
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/groutine"
	"github.com/srg/pinelink/internal/metrics"
	"github.com/srg/pinelink/internal/poller"
	"github.com/srg/pinelink/internal/ringchan"
	"github.com/srg/pinelink/internal/telemetry"
	"github.com/srg/pinelink/pkg/config"
)

const notificationBuffer = 16

var (
	// ErrBusy is returned by Connect outside the idle state
	ErrBusy = errors.New("connection manager busy")

	// ErrConnectCancelled is returned by a Connect superseded by Disconnect
	ErrConnectCancelled = errors.New("connect cancelled")

	// ErrLinkDropped is reported when the transport drops an established link
	ErrLinkDropped = errors.New("link dropped by transport")
)

// Options configures a Manager
type Options struct {
	TelemetryService        string
	TelemetryCharacteristic string
	SettingsService         string
	SettingsCharacteristic  string

	// SettleDelay is waited between link establishment and resolution
	SettleDelay time.Duration

	PollInterval           time.Duration
	MaxConsecutiveFailures int
}

// OptionsFromConfig maps application configuration onto manager options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TelemetryService:        cfg.TelemetryService,
		TelemetryCharacteristic: cfg.TelemetryCharacteristic,
		SettingsService:         cfg.SettingsService,
		SettingsCharacteristic:  cfg.SettingsCharacteristic,
		SettleDelay:             cfg.SettleDelay,
		PollInterval:            cfg.PollInterval,
		MaxConsecutiveFailures:  cfg.MaxConsecutiveFailures,
	}
}

// Manager drives one peripheral through idle, connecting, resolving, streaming
// and disconnecting. All methods are safe for concurrent use.
type Manager struct {
	transport device.Transport
	scheduler *poller.Scheduler
	logger    *logrus.Logger
	opts      Options

	// mu guards the state machine, conn, handle, cancelConnect and teardown
	mu            sync.Mutex
	machine       *fsm.FSM
	conn          *Connection
	handle        *poller.Handle
	cancelConnect context.CancelFunc
	// teardown is closed once the disconnect in progress has reached idle
	teardown chan struct{}

	current       atomic.Pointer[telemetry.Reading]
	readings      *ringchan.RingChannel[telemetry.Reading]
	notifications *ringchan.RingChannel[Notification]
}

// NewManager creates an idle manager on top of transport
func NewManager(transport device.Transport, logger *logrus.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.TelemetryService == "" {
		opts.TelemetryService = config.BulkServiceUUID
	}
	if opts.TelemetryCharacteristic == "" {
		opts.TelemetryCharacteristic = config.BulkLiveDataCharUUID
	}
	if opts.SettingsService == "" {
		opts.SettingsService = config.SettingsServiceUUID
	}
	if opts.SettingsCharacteristic == "" {
		opts.SettingsCharacteristic = config.SetpointCharUUID
	}

	m := &Manager{
		transport: transport,
		logger:    logger,
		opts:      opts,
		scheduler: poller.New(logger, poller.Options{
			Interval:               opts.PollInterval,
			MaxConsecutiveFailures: opts.MaxConsecutiveFailures,
		}),
		readings:      ringchan.New[telemetry.Reading](1),
		notifications: ringchan.New[Notification](notificationBuffer),
	}
	m.machine = newStateMachine(m.onEnter)
	metrics.SetState(string(StateIdle), stateNames())
	return m
}

// onEnter runs inside fire, with mu held
func (m *Manager) onEnter(from, to State) {
	metrics.SetState(string(to), stateNames())

	n := Notification{Kind: StateChanged, From: from, State: to, At: time.Now()}
	if m.conn != nil {
		n.Peripheral = m.conn.peripheral
		m.conn.setState(to)
	}
	m.notify(n)

	m.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("Connection state changed")
}

// fire triggers an FSM event; caller holds mu
func (m *Manager) fire(event string) {
	if err := m.machine.Event(context.Background(), event); isTransitionError(err) {
		// unreachable unless the call sites and the event table disagree
		m.logger.WithFields(logrus.Fields{
			"event": event,
			"state": m.machine.Current(),
			"error": err,
		}).Error("Invalid connection state transition")
	}
}

func (m *Manager) notify(n Notification) {
	if m.notifications.Send(n) {
		m.logger.WithField("kind", n.Kind).Debug("Notification buffer full, dropped oldest")
	}
}

func (m *Manager) stateLocked() State {
	return State(m.machine.Current())
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Connection returns the active connection, or nil when idle
func (m *Manager) Connection() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Current returns the most recent reading of the active stream
func (m *Manager) Current() (telemetry.Reading, bool) {
	r := m.current.Load()
	if r == nil {
		return telemetry.Reading{}, false
	}
	return *r, true
}

// Readings delivers decoded readings; slow observers only see the latest one
func (m *Manager) Readings() <-chan telemetry.Reading {
	return m.readings.C()
}

// Notifications delivers state changes, connect failures and stream losses.
// The buffer is bounded; when it overflows the oldest notification is dropped.
func (m *Manager) Notifications() <-chan Notification {
	return m.notifications.C()
}

// Connect establishes a link to peripheral, resolves the telemetry and settings
// characteristics and starts polling. It returns once streaming or failed.
func (m *Manager) Connect(ctx context.Context, peripheral device.Peripheral) error {
	m.mu.Lock()
	if state := m.stateLocked(); state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrBusy, state)
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := newConnection(peripheral)
	m.conn = conn
	m.cancelConnect = cancel
	m.clearReadings()
	m.fire(eventConnect)
	m.mu.Unlock()

	log := m.logger.WithField("address", peripheral.Address)
	log.Info("Connecting...")

	link, err := m.transport.Connect(connCtx, peripheral)
	if err != nil {
		return m.failConnect(conn, fmt.Errorf("transport connect: %w", err))
	}

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		// Disconnect won while dialing; the link is ours to close
		if err := link.Disconnect(); err != nil {
			log.WithField("error", err).Warn("Failed to close superseded link")
		}
		return ErrConnectCancelled
	}
	conn.attach(link)
	m.fire(eventResolve)
	m.mu.Unlock()

	if m.opts.SettleDelay > 0 {
		log.WithField("delay", m.opts.SettleDelay).Debug("Waiting for link to settle")
		timer := time.NewTimer(m.opts.SettleDelay)
		select {
		case <-timer.C:
		case <-connCtx.Done():
			timer.Stop()
			return m.failConnect(conn, connCtx.Err())
		}
	}

	telemetryRef, err := conn.ref(connCtx, m.opts.TelemetryService, m.opts.TelemetryCharacteristic)
	if err != nil {
		return m.failConnect(conn, fmt.Errorf("resolve telemetry characteristic: %w", err))
	}
	settingsRef, err := conn.ref(connCtx, m.opts.SettingsService, m.opts.SettingsCharacteristic)
	if err != nil {
		return m.failConnect(conn, fmt.Errorf("resolve settings characteristic: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		return ErrConnectCancelled
	}

	m.cancelConnect = nil
	cancel()
	m.fire(eventStream)

	source := poller.SourceFunc(func(ctx context.Context) ([]byte, error) {
		return link.Read(ctx, telemetryRef.Char)
	})
	m.handle = m.scheduler.Start(context.Background(), source, &streamSink{m: m, conn: conn})
	m.watchLink(conn, link)

	for _, ref := range conn.Resolved() {
		log.WithFields(logrus.Fields{
			"ref":  ref.String(),
			"name": bledb.LookupCharacteristic(ref.CharacteristicID),
		}).Debug("Resolved characteristic")
	}
	log.WithFields(logrus.Fields{
		"telemetry": telemetryRef.String(),
		"settings":  settingsRef.String(),
		"handle":    m.handle.ID(),
	}).Info("Streaming telemetry")
	return nil
}

// failConnect moves a failed attempt through error back to idle
func (m *Manager) failConnect(conn *Connection, cause error) error {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrConnectCancelled, cause)
	}

	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	m.fire(eventFail)
	m.conn = nil
	m.notify(Notification{Kind: ConnectionFailed, State: StateError, Peripheral: conn.peripheral, Err: cause, At: time.Now()})
	m.fire(eventReset)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"address": conn.peripheral.Address,
		"error":   cause,
	}).Error("Connection failed")

	conn.close(m.logger)
	return cause
}

// Disconnect tears down whatever is in progress and returns to idle.
// It is a no-op when idle. A call that finds another disconnect in progress
// waits for that one to reach idle. Transport errors are logged, never returned.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	switch m.stateLocked() {
	case StateIdle:
		m.mu.Unlock()
		return
	case StateDisconnecting:
		teardown := m.teardown
		m.mu.Unlock()
		<-teardown
		return
	}

	// Stop publication before anything else so no reading follows Disconnect
	if m.handle != nil {
		m.scheduler.Cancel(m.handle)
		m.handle = nil
	}
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	conn := m.conn
	teardown := make(chan struct{})
	m.teardown = teardown
	m.clearReadings()
	m.fire(eventDisconnect)
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		written, overwritten := m.readings.Stats()
		m.logger.WithFields(logrus.Fields{
			"address":         conn.peripheral.Address,
			"readings":        written,
			"readings_unread": overwritten,
		}).Info("Disconnecting...")
		conn.close(m.logger)
	}

	m.mu.Lock()
	m.fire(eventReset)
	m.teardown = nil
	m.mu.Unlock()
	close(teardown)
}

// clearReadings drops the latest reading and anything still buffered for
// Readings(), so a later session never sees a frame from this one. Caller holds mu
// and has already cancelled the poll handle.
func (m *Manager) clearReadings() {
	m.current.Store(nil)
	for {
		if _, ok := m.readings.TryReceive(); !ok {
			return
		}
	}
}

// streamLost handles loss of the stream owned by conn; stale connections are ignored
func (m *Manager) streamLost(conn *Connection, cause error) {
	m.mu.Lock()
	if m.conn != conn || m.stateLocked() != StateStreaming {
		m.mu.Unlock()
		return
	}

	if m.handle != nil {
		m.scheduler.Cancel(m.handle)
		m.handle = nil
	}
	m.clearReadings()
	m.fire(eventFail)
	m.conn = nil
	m.notify(Notification{Kind: ConnectionLost, State: StateError, Peripheral: conn.peripheral, Err: cause, At: time.Now()})
	m.fire(eventReset)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"address": conn.peripheral.Address,
		"error":   cause,
	}).Error("Connection lost")

	conn.close(m.logger)
}

// watchLink turns a transport-reported drop into a stream loss
func (m *Manager) watchLink(conn *Connection, link device.Link) {
	dropped := link.Disconnected()
	if dropped == nil {
		return
	}
	groutine.Go(context.Background(), "link-watch-"+conn.peripheral.Address, func(ctx context.Context) {
		select {
		case <-dropped:
			m.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Transport reported link drop")
			m.streamLost(conn, ErrLinkDropped)
		case <-conn.Closed():
		}
	})
}

// publish must not take mu: it runs under the poll handle's lock
func (m *Manager) publish(r telemetry.Reading) {
	m.current.Store(&r)
	m.readings.Send(r)

	for pair := r.Fields().Oldest(); pair != nil; pair = pair.Next() {
		metrics.Reading.WithLabelValues(pair.Key).Set(pair.Value.Value)
	}
}

// streamSink binds scheduler output to the connection that started it
type streamSink struct {
	m    *Manager
	conn *Connection
}

func (s *streamSink) Publish(r telemetry.Reading) { s.m.publish(r) }

func (s *streamSink) StreamLost(err error) { s.m.streamLost(s.conn, err) }
