package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/poller"
	"github.com/srg/pinelink/internal/telemetry"
	"github.com/srg/pinelink/pkg/connection"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link was lost while a command was using it.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoDevice indicates no matching iron answered a scan
	ErrNoDevice = errors.New("no matching device found")
)

// FormatUserError turns internal error chains into a one-line hint for the terminal
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case errors.Is(err, ErrNoDevice):
		return fmt.Sprintf("%v. Is the iron powered on and in range?", err)
	case errors.Is(err, device.ErrServiceNotFound), errors.Is(err, device.ErrCharacteristicNotFound):
		return fmt.Sprintf("device does not look like an IronOS iron (%v). Bluetooth support needs IronOS 2.21 or newer.", err)
	case errors.Is(err, poller.ErrStreamLost), errors.Is(err, connection.ErrLinkDropped), errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("connection to the iron was lost: %v", err)
	case errors.Is(err, telemetry.ErrOutOfRange):
		return fmt.Sprintf("setpoint out of range: %v", err)
	case errors.Is(err, connection.ErrWriteRejected):
		return fmt.Sprintf("the iron rejected the new setpoint: %v", err)
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out waiting for the iron: %v", err)
	default:
		return err.Error()
	}
}
