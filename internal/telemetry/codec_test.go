package telemetry

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame builds a live-data frame from five raw u32 fields
func frame(fields ...uint32) []byte {
	b := make([]byte, len(fields)*4)
	for i, f := range fields {
		binary.LittleEndian.PutUint32(b[i*4:], f)
	}
	return b
}

func TestDecodeReading(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected Reading
	}{
		{
			name:  "reference frame",
			input: frame(200, 210, 1200, 250, 305),
			expected: Reading{
				Temperature:       200,
				Setpoint:          210,
				InputVoltage:      120.0,
				HandleTemperature: 25.0,
				PowerWatts:        30.5,
			},
		},
		{
			name:     "tenths keep one decimal",
			input:    frame(0, 0, 1205, 1, 9),
			expected: Reading{InputVoltage: 120.5, HandleTemperature: 0.1, PowerWatts: 0.9},
		},
		{
			name:     "all zero",
			input:    make([]byte, FrameSize),
			expected: Reading{},
		},
		{
			name:  "max u32 values",
			input: frame(math.MaxUint32, math.MaxUint32, math.MaxUint32, math.MaxUint32, math.MaxUint32),
			expected: Reading{
				Temperature:       math.MaxUint32,
				Setpoint:          math.MaxUint32,
				InputVoltage:      float64(math.MaxUint32) / 10,
				HandleTemperature: float64(math.MaxUint32) / 10,
				PowerWatts:        float64(math.MaxUint32) / 10,
			},
		},
		{
			name:     "trailing bytes ignored",
			input:    append(frame(330, 320, 200, 310, 650), 0xFF, 0xFF, 0xFF),
			expected: Reading{Temperature: 330, Setpoint: 320, InputVoltage: 20.0, HandleTemperature: 31.0, PowerWatts: 65.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReading(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			again, err := DecodeReading(tt.input)
			require.NoError(t, err)
			assert.Equal(t, got, again, "decoding MUST be deterministic")
		})
	}
}

func TestDecodeReading_Truncated(t *testing.T) {
	for n := 0; n < FrameSize; n++ {
		got, err := DecodeReading(make([]byte, n))

		require.Error(t, err, "length %d MUST fail", n)
		assert.True(t, errors.Is(err, ErrTruncated), "length %d MUST match ErrTruncated", n)
		assert.Equal(t, Reading{}, got, "length %d MUST NOT yield a partial reading", n)

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, n, decodeErr.Got)
		assert.Equal(t, FrameSize, decodeErr.Want)
	}

	_, err := DecodeReading(nil)
	assert.ErrorIs(t, err, ErrTruncated, "nil input MUST fail as truncated")
}

func TestEncodeSetpoint(t *testing.T) {
	tests := []struct {
		value    int
		expected []byte
	}{
		{0, []byte{0x00, 0x00}},
		{220, []byte{0xDC, 0x00}},
		{450, []byte{0xC2, 0x01}},
		{math.MaxUint16, []byte{0xFF, 0xFF}},
	}

	for _, tt := range tests {
		got, err := EncodeSetpoint(tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got, "value %d", tt.value)
		assert.Len(t, got, SetpointSize)
	}
}

func TestEncodeSetpoint_OutOfRange(t *testing.T) {
	for _, v := range []int{-1, -220, math.MaxUint16 + 1, 1 << 20} {
		got, err := EncodeSetpoint(v)

		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrOutOfRange, "value %d MUST be rejected", v)

		var encodeErr *EncodeError
		require.ErrorAs(t, err, &encodeErr)
		assert.Equal(t, v, encodeErr.Value)
	}
}

func TestSetpointRoundTrip(t *testing.T) {
	for _, v := range []int{0, 10, 220, 450, math.MaxUint16} {
		encoded, err := EncodeSetpoint(v)
		require.NoError(t, err)

		buf := frame(300, 0, 0, 0, 0)
		copy(buf[offsetSetpoint:], encoded)

		reading, err := DecodeReading(buf)
		require.NoError(t, err)
		assert.Equal(t, float64(v), reading.Setpoint, "setpoint %d MUST survive the round trip", v)
		assert.Equal(t, float64(300), reading.Temperature, "neighbouring fields MUST be untouched")
	}
}

func TestReadingFields(t *testing.T) {
	r := Reading{Temperature: 200, Setpoint: 210, InputVoltage: 120, HandleTemperature: 25, PowerWatts: 30.5}

	fields := r.Fields()
	var keys []string
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"temperature", "setpoint", "input_voltage", "handle_temperature", "power"}, keys,
		"fields MUST follow wire order")

	power, ok := fields.Get("power")
	require.True(t, ok)
	assert.Equal(t, "30.5W", power.Format())

	temp, _ := fields.Get("temperature")
	assert.Equal(t, "200°C", temp.Format())

	assert.Equal(t, "Temperature=200°C Setpoint=210°C Input Voltage=120.0V Handle=25.0°C Power=30.5W", r.String())
}
