package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/testutils/mocks"
	"github.com/stretchr/testify/suite"
)

// MockPeripheralSuite provides a testify suite with a mocked Pinecil-like peripheral.
//
// Custom profile usage:
//
//	type WriterSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func (s *WriterSuite) SetupTest() {
//	    s.WithPeripheral().WithWriteError(testutils.SetpointCharUUID, errors.New("att: write not permitted"))
//	    s.MockPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// TestTimeout bounds waits on asynchronous outcomes
	TestTimeout time.Duration

	PeripheralBuilder *PeripheralBuilder
	Transport         *mocks.MockTransport
	Peripheral        *FakePeripheral
}

// DefaultFrame is served by the default peripheral: 200°C, setpoint 210°C, 120.0V, 25.0°C, 30.5W
var DefaultFrame = Frame(200, 210, 1200, 250, 305)

// SetupSuite is called once before all tests in the suite.
func (s *MockPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
}

// WithPeripheral returns the builder for the next test, creating the default one if needed
func (s *MockPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = CreateMockPeripheral(DefaultFrame)
	}
	return s.PeripheralBuilder
}

// SetupTest builds the mocked transport before each test.
func (s *MockPeripheralSuite) SetupTest() {
	s.Transport, s.Peripheral = s.WithPeripheral().Build()
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the builder so each test starts from the default profile.
func (s *MockPeripheralSuite) TearDownTest() {
	s.PeripheralBuilder = nil
	s.Transport = nil
	s.Peripheral = nil
}
