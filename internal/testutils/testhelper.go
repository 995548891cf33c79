package testutils

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
)

// IronOS identifiers used by the mocked peripheral
const (
	TelemetryServiceUUID = "9eae1000-9d0d-48c5-aa55-33e27f9bc533"
	TelemetryCharUUID    = "9eae1001-9d0d-48c5-aa55-33e27f9bc533"
	SettingsServiceUUID  = "f6d80000-5a10-4eba-aa55-33e27f9bc533"
	SetpointCharUUID     = "f6d70000-5a10-4eba-aa55-33e27f9bc533"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Frame builds a telemetry frame from raw little-endian u32 fields
func Frame(fields ...uint32) []byte {
	b := make([]byte, 4*len(fields))
	for i, f := range fields {
		binary.LittleEndian.PutUint32(b[i*4:], f)
	}
	return b
}

// CreateMockPeripheral returns a builder for a Pinecil-like peripheral whose
// live-data characteristic holds the given frame.
func CreateMockPeripheral(frame []byte) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(`{
		"address": "AA:BB:CC:DD:EE:FF",
		"name": "Pinecil-1A2B3C",
		"services": [
			{
				"uuid": "1800",
				"characteristics": [
					{ "uuid": "2a00", "properties": "read", "value": [80, 105, 110, 101] }
				]
			},
			{
				"uuid": %q,
				"characteristics": [
					{ "uuid": %q, "properties": "read,notify" }
				]
			},
			{
				"uuid": %q,
				"characteristics": [
					{ "uuid": %q, "properties": "read,write" }
				]
			}
		]
	}`, TelemetryServiceUUID, TelemetryCharUUID, SettingsServiceUUID, SetpointCharUUID).
		WithReads(TelemetryCharUUID, StaticReads(frame))
}

// StaticReads serves the same frame on every read
func StaticReads(frame []byte) ReadFunc {
	return func(_ context.Context, _ int) ([]byte, error) {
		return append([]byte(nil), frame...), nil
	}
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}
