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
		{"16-bit", "2A37", "2a37"},
		{"0x prefix", "0x2902", "2902"},
		{"0X prefix", "0X2902", "2902"},
		{"SIG base with dashes", "0000180d-0000-1000-8000-00805f9b34fb", "180d"},
		{"SIG base uppercase", "00002A5B-0000-1000-8000-00805F9B34FB", "2a5b"},
		{"custom 128-bit is kept", "6E40FEC1-B5A3-F393-E0A9-E50E24DCCA9E", ServiceTacxFEC},
		{"non-zero prefix is kept", "1234180d00001000800000805f9b34fb", "1234180d00001000800000805f9b34fb"},
		{"known service name", "cycling_power", ServiceCyclingPower},
		{"known characteristic name", " Heart_Rate_Measurement ", CharacteristicHeartRate},
		{"whitespace", "  180F ", ServiceBattery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}

	t.Run("idempotent", func(t *testing.T) {
		for _, tt := range tests {
			once := NormalizeUUID(tt.input)
			assert.Equal(t, once, NormalizeUUID(once), "normalizing twice MUST be stable for %q", tt.input)
		}
	})
}

func TestNormalizeUUIDs(t *testing.T) {
	assert.Equal(t, []string{"180d", "2a37", ServiceTacxFEC},
		NormalizeUUIDs([]string{"heart_rate", "0x2A37", "6e40fec1-b5a3-f393-e0a9-e50e24dcca9e"}))
	assert.Empty(t, NormalizeUUIDs(nil))
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("180D", "battery_level", "6e40fec1-b5a3-f393-e0a9-e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, []string{"180d", "2a19", ServiceTacxFEC}, got)

	_, err = ValidateUUID()
	assert.Error(t, err, "empty list MUST be rejected")

	_, err = ValidateUUID("180d", "")
	assert.ErrorContains(t, err, "index 1")

	for _, bad := range []string{"xyz", "12345", "not_a_known_name"} {
		_, err = ValidateUUID(bad)
		assert.Error(t, err, "%q MUST be rejected", bad)
	}
}

func TestKnownName(t *testing.T) {
	assert.Equal(t, "heart_rate", KnownName("0000180d-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "cycling_power_measurement", KnownName("2A63"))
	assert.Empty(t, KnownName(CharacteristicDeviceName), "dotted names MUST NOT be reported")
	assert.Empty(t, KnownName(ServiceTacxFEC))
}
