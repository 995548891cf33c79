package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/poller"
	"github.com/srg/pinelink/internal/telemetry"
	"github.com/srg/pinelink/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// ManagerTestSuite runs the connection lifecycle against a mocked peripheral
type ManagerTestSuite struct {
	testutils.MockPeripheralSuite

	opts Options
}

func (s *ManagerTestSuite) SetupTest() {
	s.opts = Options{
		SettleDelay:  0,
		PollInterval: 5 * time.Millisecond,
	}
	s.MockPeripheralSuite.SetupTest()
}

func (s *ManagerTestSuite) newManager() *Manager {
	return NewManager(s.Transport, s.Logger, s.opts)
}

func (s *ManagerTestSuite) connect(m *Manager) {
	s.Require().NoError(m.Connect(context.Background(), s.PeripheralBuilder.Peripheral()))
	s.Require().Equal(StateStreaming, m.State())
}

func (s *ManagerTestSuite) handle(m *Manager) *poller.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

func (s *ManagerTestSuite) waitState(m *Manager, want State) {
	s.Require().Eventually(func() bool { return m.State() == want }, s.TestTimeout, 2*time.Millisecond,
		"manager MUST reach %s, is %s", want, m.State())
}

func (s *ManagerTestSuite) waitReading(m *Manager) telemetry.Reading {
	select {
	case r := <-m.Readings():
		return r
	case <-time.After(s.TestTimeout):
		s.FailNow("reading MUST be delivered")
		return telemetry.Reading{}
	}
}

// drain collects buffered notifications
func drain(m *Manager) []Notification {
	var out []Notification
	for {
		select {
		case n := <-m.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}

func countKind(ns []Notification, kind NotificationKind) int {
	c := 0
	for _, n := range ns {
		if n.Kind == kind {
			c++
		}
	}
	return c
}

func transitions(ns []Notification) []State {
	var out []State
	for _, n := range ns {
		if n.Kind == StateChanged {
			out = append(out, n.State)
		}
	}
	return out
}

func (s *ManagerTestSuite) TestConnect_FirstTickDecodesReading() {
	// GOAL: Verify the full connect → resolve → first poll path produces the decoded reading
	//
	// TEST SCENARIO: Peripheral serves [200,210,1200,250,305] → connect → first reading → values scaled by 10 where documented

	m := s.newManager()
	defer m.Disconnect()

	s.connect(m)
	r := s.waitReading(m)

	s.Equal(200.0, r.Temperature)
	s.Equal(210.0, r.Setpoint)
	s.Equal(120.0, r.InputVoltage)
	s.Equal(25.0, r.HandleTemperature)
	s.Equal(30.5, r.PowerWatts)

	current, ok := m.Current()
	s.True(ok, "current reading MUST be available while streaming")
	s.Equal(r.Temperature, current.Temperature)

	s.NotNil(s.handle(m), "poll handle MUST exist while streaming")
	s.NotNil(m.Connection())
	s.Len(m.Connection().Resolved(), 2, "both characteristics MUST be resolved and cached")

	s.Equal([]State{StateConnecting, StateResolving, StateStreaming}, transitions(drain(m)))
}

func (s *ManagerTestSuite) TestConnect_BusyOutsideIdle() {
	// GOAL: Verify a second connect is refused while a connection exists
	//
	// TEST SCENARIO: Streaming → Connect again → ErrBusy, state unchanged

	m := s.newManager()
	defer m.Disconnect()
	s.connect(m)

	err := m.Connect(context.Background(), s.PeripheralBuilder.Peripheral())
	s.ErrorIs(err, ErrBusy)
	s.Equal(StateStreaming, m.State())
	s.Len(s.Peripheral.Links(), 1, "no second dial MUST happen")
}

func (s *ManagerTestSuite) TestConnect_TransportFailure() {
	// GOAL: Verify a dial error ends in idle with exactly one failure notification
	//
	// TEST SCENARIO: Dial fails → Connect returns the cause → error → idle, ConnectionFailed once, no handle

	dialErr := errors.New("le-connection-abort-by-local")
	s.PeripheralBuilder.WithConnect(func(context.Context, device.Peripheral) error { return dialErr })
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	err := m.Connect(context.Background(), s.PeripheralBuilder.Peripheral())

	s.ErrorIs(err, dialErr)
	s.Equal(StateIdle, m.State())
	s.Nil(s.handle(m))
	s.Nil(m.Connection())

	ns := drain(m)
	s.Equal(1, countKind(ns, ConnectionFailed), "failure MUST be reported exactly once")
	s.Equal([]State{StateConnecting, StateError, StateIdle}, transitions(ns))
}

func (s *ManagerTestSuite) TestConnect_ResolutionFailureIsFatal() {
	// GOAL: Verify a missing characteristic fails the connect and closes the link
	//
	// TEST SCENARIO: Peripheral lacks the settings service → Connect fails with ErrServiceNotFound → idle, link closed

	s.PeripheralBuilder = testutils.NewPeripheralBuilder().
		WithService(testutils.TelemetryServiceUUID).
		WithCharacteristic(testutils.TelemetryCharUUID, "read", testutils.DefaultFrame)
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	err := m.Connect(context.Background(), s.PeripheralBuilder.Peripheral())

	s.ErrorIs(err, device.ErrServiceNotFound)
	s.Equal(StateIdle, m.State())
	s.Nil(s.handle(m), "no poll handle MUST exist after a failed connect")

	link := s.Peripheral.LastLink()
	s.Require().NotNil(link)
	link.AssertCalled(s.T(), "Disconnect")
	s.Equal(0, s.Peripheral.ReadCount(testutils.TelemetryCharUUID), "polling MUST NOT start")

	ns := drain(m)
	s.Equal(1, countKind(ns, ConnectionFailed))
	s.Equal([]State{StateConnecting, StateResolving, StateError, StateIdle}, transitions(ns))
}

func (s *ManagerTestSuite) TestStream_ThreeFailuresReportOneLoss() {
	// GOAL: Verify repeated read failures tear the stream down with a single notification
	//
	// TEST SCENARIO: First read ok, then every read fails → error → idle, exactly one ConnectionLost

	readErr := errors.New("att: read timeout")
	s.PeripheralBuilder.WithReads(testutils.TelemetryCharUUID, func(_ context.Context, n int) ([]byte, error) {
		if n == 0 {
			return testutils.DefaultFrame, nil
		}
		return nil, readErr
	})
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	s.connect(m)
	s.waitReading(m)
	s.waitState(m, StateIdle)

	s.Equal(4, s.Peripheral.ReadCount(testutils.TelemetryCharUUID), "no read MUST follow the third failure")
	s.Nil(s.handle(m))
	s.Nil(m.Connection())
	_, ok := m.Current()
	s.False(ok, "stale reading MUST NOT outlive the stream")

	ns := drain(m)
	s.Equal(1, countKind(ns, ConnectionLost), "loss MUST be reported once, not per failure")
	s.Equal(0, countKind(ns, ConnectionFailed))
	s.Equal([]State{StateConnecting, StateResolving, StateStreaming, StateError, StateIdle}, transitions(ns))

	for _, n := range ns {
		if n.Kind == ConnectionLost {
			s.ErrorIs(n.Err, poller.ErrStreamLost)
			s.ErrorIs(n.Err, readErr)
		}
	}

	s.Peripheral.LastLink().AssertCalled(s.T(), "Disconnect")
}

func (s *ManagerTestSuite) TestStream_LinkDropIsLoss() {
	// GOAL: Verify a transport-reported drop ends the stream like a read failure streak
	//
	// TEST SCENARIO: Streaming → link drops → idle with one ConnectionLost carrying ErrLinkDropped

	m := s.newManager()
	s.connect(m)
	s.waitReading(m)

	s.Peripheral.Drop()
	s.waitState(m, StateIdle)

	ns := drain(m)
	s.Require().Equal(1, countKind(ns, ConnectionLost))
	for _, n := range ns {
		if n.Kind == ConnectionLost {
			s.ErrorIs(n.Err, ErrLinkDropped)
		}
	}
	s.Nil(s.handle(m))
}

func (s *ManagerTestSuite) TestDisconnect_FromStreaming() {
	// GOAL: Verify disconnect stops polling before tearing the link down
	//
	// TEST SCENARIO: Streaming → Disconnect → idle, no handle, no further reads, link closed

	m := s.newManager()
	s.connect(m)
	s.waitReading(m)

	m.Disconnect()

	s.Equal(StateIdle, m.State())
	s.Nil(s.handle(m))
	s.Nil(m.Connection())
	s.Peripheral.LastLink().AssertNumberOfCalls(s.T(), "Disconnect", 1)

	reads := s.Peripheral.ReadCount(testutils.TelemetryCharUUID)
	time.Sleep(5 * s.opts.PollInterval)
	s.Equal(reads, s.Peripheral.ReadCount(testutils.TelemetryCharUUID), "no read MUST start after disconnect")

	ns := drain(m)
	s.Equal(0, countKind(ns, ConnectionLost), "user disconnect MUST NOT look like a loss")
	s.Equal([]State{StateConnecting, StateResolving, StateStreaming, StateDisconnecting, StateIdle}, transitions(ns))
}

func (s *ManagerTestSuite) TestDisconnect_IdleIsNoop() {
	m := s.newManager()

	s.NotPanics(m.Disconnect)
	s.Equal(StateIdle, m.State())
	s.Empty(drain(m), "no transition MUST be reported")
}

func (s *ManagerTestSuite) TestDisconnect_SwallowsTransportError() {
	// GOAL: Verify transport teardown errors never block reaching idle
	//
	// TEST SCENARIO: Link Disconnect fails → Disconnect still ends in idle

	s.PeripheralBuilder.WithDisconnectError(errors.New("hci: unknown connection id"))
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	s.connect(m)
	m.Disconnect()

	s.Equal(StateIdle, m.State())
}

func (s *ManagerTestSuite) TestDisconnect_DuringConnecting() {
	// GOAL: Verify disconnect aborts a pending dial
	//
	// TEST SCENARIO: Dial blocks → Disconnect → Connect returns ErrConnectCancelled, idle, no failure notification

	dialing := make(chan struct{})
	s.PeripheralBuilder.WithConnect(func(ctx context.Context, _ device.Peripheral) error {
		close(dialing)
		<-ctx.Done()
		return ctx.Err()
	})
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	result := make(chan error, 1)
	go func() { result <- m.Connect(context.Background(), s.PeripheralBuilder.Peripheral()) }()

	<-dialing
	s.Equal(StateConnecting, m.State())
	m.Disconnect()
	s.Equal(StateIdle, m.State())

	select {
	case err := <-result:
		s.ErrorIs(err, ErrConnectCancelled)
	case <-time.After(s.TestTimeout):
		s.FailNow("Connect MUST return after Disconnect")
	}

	s.Equal(StateIdle, m.State())
	s.Nil(s.handle(m))
	ns := drain(m)
	s.Equal(0, countKind(ns, ConnectionFailed), "a cancelled connect MUST NOT be reported as failed")
}

func (s *ManagerTestSuite) TestDisconnect_DuringResolving() {
	// GOAL: Verify disconnect during the settle delay closes the fresh link
	//
	// TEST SCENARIO: Long settle delay → Disconnect while resolving → Connect cancelled, link closed, no polling

	s.opts.SettleDelay = time.Minute
	m := s.newManager()

	result := make(chan error, 1)
	go func() { result <- m.Connect(context.Background(), s.PeripheralBuilder.Peripheral()) }()

	s.waitState(m, StateResolving)
	m.Disconnect()

	select {
	case err := <-result:
		s.ErrorIs(err, ErrConnectCancelled)
	case <-time.After(s.TestTimeout):
		s.FailNow("Connect MUST return after Disconnect")
	}

	s.Equal(StateIdle, m.State())
	s.Nil(s.handle(m))
	s.Peripheral.LastLink().AssertCalled(s.T(), "Disconnect")
	s.Equal(0, s.Peripheral.ReadCount(testutils.TelemetryCharUUID))
}

func (s *ManagerTestSuite) TestDisconnect_DropsBufferedReading() {
	// GOAL: Verify a reading buffered before Disconnect is never delivered afterwards
	//
	// TEST SCENARIO: Streaming, nobody consumes Readings() → Disconnect → channel empty, no current reading

	m := s.newManager()
	s.connect(m)
	s.Require().Eventually(func() bool { _, ok := m.Current(); return ok }, s.TestTimeout, time.Millisecond,
		"a reading MUST be published")
	time.Sleep(20 * time.Millisecond)

	m.Disconnect()

	select {
	case r := <-m.Readings():
		s.Failf("stale reading delivered", "Readings() MUST be empty after Disconnect, got %+v", r)
	default:
	}
	_, ok := m.Current()
	s.False(ok, "current reading MUST be cleared by Disconnect")
}

func (s *ManagerTestSuite) TestReconnect_FirstReadingIsFresh() {
	// GOAL: Verify the first reading after a reconnect comes from the new connection
	//
	// TEST SCENARIO: First session serves 200°C unread → Disconnect → second session serves 300°C → first delivery is 300°C

	var second atomic.Bool
	s.PeripheralBuilder.WithReads(testutils.TelemetryCharUUID, func(context.Context, int) ([]byte, error) {
		if second.Load() {
			return testutils.Frame(300, 310, 1200, 250, 305), nil
		}
		return testutils.DefaultFrame, nil
	})
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	s.connect(m)
	s.Require().Eventually(func() bool { _, ok := m.Current(); return ok }, s.TestTimeout, time.Millisecond)
	m.Disconnect()

	second.Store(true)
	s.connect(m)
	defer m.Disconnect()

	r := s.waitReading(m)
	s.Equal(300.0, r.Temperature, "no reading of the previous session MUST be delivered")
}

func (s *ManagerTestSuite) TestStream_SingleFailureKeepsCurrentReading() {
	// GOAL: Verify one failed read neither ends the stream nor clears the latest reading
	//
	// TEST SCENARIO: Reads ok, fail, ok → still streaming, Current() holds the decoded frame, no loss

	s.PeripheralBuilder.WithReads(testutils.TelemetryCharUUID, func(_ context.Context, n int) ([]byte, error) {
		if n == 1 {
			return nil, errors.New("att: read timeout")
		}
		return testutils.DefaultFrame, nil
	})
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	defer m.Disconnect()
	s.connect(m)

	s.Require().Eventually(func() bool {
		return s.Peripheral.ReadCount(testutils.TelemetryCharUUID) >= 3
	}, s.TestTimeout, time.Millisecond, "polling MUST continue past a single failure")

	s.Equal(StateStreaming, m.State())
	r, ok := m.Current()
	s.Require().True(ok, "current reading MUST survive a failed read")
	s.Equal(200.0, r.Temperature)
	s.Equal(210.0, r.Setpoint)
	s.Equal(0, countKind(drain(m), ConnectionLost), "a single failure MUST NOT be reported as a loss")
}

func (s *ManagerTestSuite) TestConnection_StateFollowsLifecycle() {
	// GOAL: Verify a connection reports its own lifecycle and is closed for good after teardown
	//
	// TEST SCENARIO: Streaming → connection streaming; Disconnect → retained reference reads closed

	m := s.newManager()
	s.connect(m)

	conn := m.Connection()
	s.Require().NotNil(conn)
	s.Equal(StateStreaming, conn.State())

	m.Disconnect()
	s.Equal(StateClosed, conn.State(), "a torn down connection MUST report closed")

	s.connect(m)
	defer m.Disconnect()
	s.Equal(StateClosed, conn.State(), "a new connection MUST NOT revive the old one")
	s.Equal(StateStreaming, m.Connection().State())
}

func (s *ManagerTestSuite) TestConnection_ClosedAfterLoss() {
	m := s.newManager()
	s.connect(m)
	conn := m.Connection()

	s.Peripheral.Drop()
	s.waitState(m, StateIdle)
	s.Eventually(func() bool { return conn.State() == StateClosed }, s.TestTimeout, time.Millisecond,
		"a lost connection MUST end closed")
}

func (s *ManagerTestSuite) TestDisconnect_SecondCallWaitsForTeardown() {
	// GOAL: Verify a Disconnect issued while another is tearing down returns only once idle
	//
	// TEST SCENARIO: Link teardown blocks → second Disconnect still pending → teardown released → second returns in idle

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s.PeripheralBuilder.WithDisconnect(func() error {
		once.Do(func() { close(entered) })
		<-gate
		return nil
	})
	s.MockPeripheralSuite.SetupTest()

	m := s.newManager()
	s.connect(m)
	conn := m.Connection()

	first := make(chan struct{})
	go func() {
		m.Disconnect()
		close(first)
	}()

	select {
	case <-entered:
	case <-time.After(s.TestTimeout):
		close(gate)
		s.FailNow("link teardown MUST start")
	}
	s.Equal(StateDisconnecting, m.State())
	s.Equal(StateDisconnecting, conn.State(), "connection MUST report disconnecting while the link closes")

	second := make(chan State, 1)
	go func() {
		m.Disconnect()
		second <- m.State()
	}()

	select {
	case st := <-second:
		close(gate)
		s.FailNowf("second Disconnect returned early", "returned in %s while teardown was pending", st)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case st := <-second:
		s.Equal(StateIdle, st, "second Disconnect MUST return only once idle")
	case <-time.After(s.TestTimeout):
		s.FailNow("second Disconnect MUST return after teardown")
	}
	<-first

	s.Equal(StateClosed, conn.State())
	s.Peripheral.LastLink().AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.Equal([]State{StateConnecting, StateResolving, StateStreaming, StateDisconnecting, StateIdle}, transitions(drain(m)),
		"teardown MUST be reported once")
}

func (s *ManagerTestSuite) TestReconnect_ResolvesAfresh() {
	// GOAL: Verify no characteristic reference survives into the next connection
	//
	// TEST SCENARIO: Connect → disconnect → connect → second link is discovered again, refs differ

	m := s.newManager()
	s.connect(m)
	first := m.Connection()
	firstRefs := first.Resolved()
	m.Disconnect()

	s.connect(m)
	defer m.Disconnect()
	second := m.Connection()

	s.NotSame(first, second)
	links := s.Peripheral.Links()
	s.Require().Len(links, 2)
	links[1].AssertCalled(s.T(), "Services", mock.Anything)

	secondRefs := second.Resolved()
	s.Require().Len(secondRefs, 2)
	for _, a := range firstRefs {
		for _, b := range secondRefs {
			s.NotSame(a, b, "references MUST be resolved per connection")
		}
	}
	s.NotNil(s.handle(m))
}

func (s *ManagerTestSuite) TestSettleDelayIsHonoured() {
	s.opts.SettleDelay = 30 * time.Millisecond
	m := s.newManager()
	defer m.Disconnect()

	started := time.Now()
	s.connect(m)
	s.GreaterOrEqual(time.Since(started), s.opts.SettleDelay)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
