package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// 16-bit forms
		{name: "16-bit lowercase", input: "2902", expected: "2902"},
		{name: "16-bit uppercase", input: "2A37", expected: "2a37"},
		{name: "16-bit with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "surrounding whitespace", input: "  180d ", expected: "180d"},

		// Bluetooth SIG base collapses to the 16-bit form
		{name: "SIG base with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG base without dashes", input: "0000290200001000800000805f9b34fb", expected: "2902"},
		{name: "SIG base uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},
		{name: "SIG base odd dash placement", input: "0000-2902-0000-1000-8000-00805f9b34fb", expected: "2902"},

		// Vendor 128-bit identifiers keep all 32 digits
		{name: "IronOS live data", input: "9EAE1001-9D0D-48C5-AA55-33E27F9BC533", expected: "9eae10019d0d48c5aa5533e27f9bc533"},
		{name: "IronOS setpoint", input: "f6d70000-5a10-4eba-aa55-33e27f9bc533", expected: "f6d700005a104ebaaa5533e27f9bc533"},
		{name: "wrong prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "wrong suffix", input: "00002902-1234-5678-9abc-def012345678", expected: "00002902123456789abcdef012345678"},

		// 32-bit
		{name: "32-bit", input: "12345678", expected: "12345678"},

		// Rejected
		{name: "empty", input: "", expected: ""},
		{name: "too long", input: "0000290200001000800000805f9b34fb00", expected: ""},
		{name: "odd length", input: "29021", expected: ""},
		{name: "not hex", input: "zz02", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	input := []string{"2902", "0x180d", "0000-2a37-0000-1000-8000-00805f9b34fb", "9eae1000-9d0d-48c5-aa55-33e27f9bc533"}
	expected := []string{"2902", "180d", "2a37", "9eae10009d0d48c5aa5533e27f9bc533"}

	assert.Equal(t, expected, NormalizeUUIDs(input))
}

func TestEqualUUID(t *testing.T) {
	assert.True(t, EqualUUID("180F", "0000180f-0000-1000-8000-00805f9b34fb"))
	assert.True(t, EqualUUID("9EAE1001-9D0D-48C5-AA55-33E27F9BC533", "9eae10019d0d48c5aa5533e27f9bc533"))
	assert.False(t, EqualUUID("9eae1000-9d0d-48c5-aa55-33e27f9bc533", "9eae1001-9d0d-48c5-aa55-33e27f9bc533"),
		"service and characteristic MUST NOT be confused")
	assert.False(t, EqualUUID("", ""), "invalid identifiers MUST NOT compare equal")
}

func TestValidateUUID(t *testing.T) {
	ids, err := ValidateUUID("0x180d", "9EAE1001-9D0D-48C5-AA55-33E27F9BC533")
	require.NoError(t, err)
	assert.Equal(t, []string{"180d", "9eae10019d0d48c5aa5533e27f9bc533"}, ids)

	_, err = ValidateUUID()
	assert.ErrorContains(t, err, "at least one UUID")

	_, err = ValidateUUID("180d", "")
	assert.ErrorContains(t, err, "index 1 cannot be empty")

	_, err = ValidateUUID("nope")
	assert.ErrorContains(t, err, "invalid UUID format")
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "180d", ShortenUUID("180d"))
	assert.Equal(t, "9eae1001", ShortenUUID("9eae10019d0d48c5aa5533e27f9bc533"))
}
