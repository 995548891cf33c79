package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/devicefactory"
	"github.com/srg/pinelink/internal/testutils"
	"github.com/srg/pinelink/pkg/config"
)

// TestDeviceAddress is the address of the default mocked iron
const TestDeviceAddress = "AA:BB:CC:DD:EE:FF"

// testConfig keeps command runs fast: no settle delay, quick polls and short scans
const testConfig = `
settle_delay: 0s
poll_interval: 10ms
scan_timeout: 200ms
operation_timeout: 1s
`

// CommandTestSuite extends MockPeripheralSuite with command testing utilities.
// All cmd/pinelink test suites should embed this instead of MockPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockPeripheralSuite

	ConfigPath      string
	originalFactory func(*config.Config, *logrus.Logger) device.Transport
}

// SetupSuite writes the shared config file and swaps in the mocked transport factory
func (s *CommandTestSuite) SetupSuite() {
	s.MockPeripheralSuite.SetupSuite()

	s.ConfigPath = filepath.Join(s.T().TempDir(), "pinelink.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(testConfig), 0o600), "config file MUST be written")

	s.originalFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(*config.Config, *logrus.Logger) device.Transport {
		return s.Transport
	}
}

// TearDownSuite restores the real transport factory
func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.TransportFactory = s.originalFactory
}

// SetupTest resets command flags, then builds the mocked peripheral
func (s *CommandTestSuite) SetupTest() {
	resetFlags()
	s.MockPeripheralSuite.SetupTest()
}

// ExecuteCommand runs a subcommand with args and the test config, returns output and error.
// args[0] is the subcommand name.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	// --config goes right after the subcommand so a "--" separator in args cannot swallow it
	full := append([]string{args[0], "--config", s.ConfigPath}, args[1:]...)
	rootCmd.SetArgs(full)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every command flag variable to its default
func resetFlags() {
	scanDuration = 0
	scanFormat = "table"
	scanAll = false
	scanServices = nil
	scanAllowList = nil
	scanBlockList = nil
	scanNoColor = false

	monitorDuration = 0
	monitorFormat = "text"
	monitorMetricsAddr = ""
	monitorInterval = 0
	monitorNoColor = false

	setVerify = true
	setNoColor = false

	for _, c := range []*cobra.Command{rootCmd, scanCmd, monitorCmd, setCmd} {
		c.SilenceUsage = false
	}
}
