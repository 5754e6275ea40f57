package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/testutils"
	"github.com/bfree-trainer/bfree/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collapseSpaces squeezes tabwriter padding so rows compare by content
func collapseSpaces(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.Join(lines, "\n")
}

func TestDisplayRolesTable(t *testing.T) {
	// GOAL: Verify built-in roles are listed with GATT names followed by config-only roles
	//
	// TEST SCENARIO: config overrides heart_rate and adds two roles → override not repeated, config roles listed last

	cfg := config.DefaultConfig()
	cfg.Roles = map[string]config.RoleConfig{
		"heart_rate": {Any: true},
		"fitness_machine": {
			Services:        []string{"fitness_machine"},
			Characteristics: []config.CharacteristicConfig{{Service: "fitness_machine", Characteristic: "indoor_bike_data"}},
		},
		"generic": {Any: true},
	}

	var buf bytes.Buffer
	require.NoError(t, displayRolesTable(&buf, cfg))

	expected := `
ROLE SERVICES CHARACTERISTICS DESCRIPTION
cycling_cadence cycling_speed_and_cadence csc_measurement Cadence sensor
cycling_power cycling_power cycling_power_measurement Power meter
cycling_speed cycling_speed_and_cadence csc_measurement Speed sensor
cycling_speed_and_cadence cycling_speed_and_cadence csc_measurement Combined speed and cadence sensor
heart_rate heart_rate heart_rate_measurement Heart rate monitor
smart_trainer 6e40fec1 6e40fec2 Smart trainer speaking FE-C over BLE
fitness_machine fitness_machine indoor_bike_data (config)
generic any (config)
`
	testutils.NewTextAsserter(t).Assert(collapseSpaces(buf.String()), expected)
}

func TestDisplayUUID(t *testing.T) {
	assert.Equal(t, "heart_rate", displayUUID("0000180D-0000-1000-8000-00805F9B34FB"))
	assert.Equal(t, "ffe0", displayUUID("0xFFE0"))
	assert.Equal(t, "6e40fec1", displayUUID(device.ServiceTacxFEC))
	assert.Equal(t, "heart_rate,battery_service", displayUUIDs([]string{"180d", "180f"}))
}
