// Package telemetry translates the iron's wire frames into typed readings and back.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// FrameSize is the length of one live-data telemetry frame: five little-endian u32 fields.
	FrameSize = 20

	// SetpointSize is the length of an encoded setpoint write.
	SetpointSize = 2

	fieldSize = 4

	offsetTemperature       = 0 * fieldSize
	offsetSetpoint          = 1 * fieldSize
	offsetInputVoltage      = 2 * fieldSize
	offsetHandleTemperature = 3 * fieldSize
	offsetPower             = 4 * fieldSize

	// tenthsScale converts fixed-point tenths on the wire into float values.
	tenthsScale = 10
)

// Codec sentinels; match with errors.Is
var (
	ErrTruncated  = errors.New("telemetry frame truncated")
	ErrOutOfRange = errors.New("setpoint out of range")
)

// DecodeError describes a telemetry frame that could not be decoded
type DecodeError struct {
	Got  int
	Want int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: got %d bytes, want %d", ErrTruncated, e.Got, e.Want)
}

func (e *DecodeError) Unwrap() error { return ErrTruncated }

// EncodeError describes a setpoint that does not fit the wire field
type EncodeError struct {
	Value int
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%v: %d does not fit in 0..%d", ErrOutOfRange, e.Value, math.MaxUint16)
}

func (e *EncodeError) Unwrap() error { return ErrOutOfRange }

// Reading is one decoded telemetry snapshot. Values are immutable once produced.
type Reading struct {
	Temperature       float64 // tip temperature, whole degrees
	Setpoint          float64 // target temperature, whole degrees
	InputVoltage      float64 // volts, one decimal
	HandleTemperature float64 // degrees, one decimal
	PowerWatts        float64 // watts, one decimal

	ReceivedAt time.Time
}

// DecodeReading decodes a live-data frame. Bytes past FrameSize are ignored.
// Returns a *DecodeError (errors.Is ErrTruncated) for short input; never a partial Reading.
func DecodeReading(b []byte) (Reading, error) {
	if len(b) < FrameSize {
		return Reading{}, &DecodeError{Got: len(b), Want: FrameSize}
	}

	u32 := func(off int) uint32 {
		return binary.LittleEndian.Uint32(b[off : off+fieldSize])
	}

	return Reading{
		Temperature:       float64(u32(offsetTemperature)),
		Setpoint:          float64(u32(offsetSetpoint)),
		InputVoltage:      tenths(u32(offsetInputVoltage)),
		HandleTemperature: tenths(u32(offsetHandleTemperature)),
		PowerWatts:        tenths(u32(offsetPower)),
	}, nil
}

// EncodeSetpoint encodes a setpoint in whole degrees as a little-endian u16.
// Range and step policy belong to the caller; only the wire width is enforced.
func EncodeSetpoint(value int) ([]byte, error) {
	if value < 0 || value > math.MaxUint16 {
		return nil, &EncodeError{Value: value}
	}
	buf := make([]byte, SetpointSize)
	binary.LittleEndian.PutUint16(buf, uint16(value))
	return buf, nil
}

// tenths divides by ten; float64 division of an exact integer yields the
// closest representable value, so 1205 decodes to exactly the literal 120.5.
func tenths(raw uint32) float64 {
	return float64(raw) / tenthsScale
}
