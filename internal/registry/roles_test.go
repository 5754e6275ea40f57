package registry

import (
	"testing"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinRoles(t *testing.T) {
	roles := BuiltinRoles()

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
		assert.NotEmpty(t, r.Characteristics, "%s MUST subscribe at least one characteristic", r.Name)
	}
	assert.Equal(t, []string{
		"cycling_cadence",
		"cycling_power",
		"cycling_speed",
		"cycling_speed_and_cadence",
		"heart_rate",
		"smart_trainer",
	}, names)

	for _, name := range []string{"cycling_speed", "cycling_cadence"} {
		r, ok := LookupRole(name)
		require.True(t, ok)
		assert.Equal(t, []string{device.ServiceCyclingSpeedCadence}, r.Services, "%s MUST share the CSC filter", name)
	}
}

func TestRoleOptions(t *testing.T) {
	r, ok := LookupRole("heart_rate")
	require.True(t, ok)

	opts := r.Options(false)
	assert.Equal(t, []string{device.ServiceHeartRate}, opts.Filter.Services)
	assert.NotNil(t, opts.decoder(opts.intents()[0]), "heart rate values MUST be decoded")

	opts.Characteristics[0].Decode = nil
	assert.NotNil(t, r.Characteristics[0].Decode, "options MUST NOT alias the catalog")

	assert.Empty(t, r.Options(true).Filter.Services, "any-device options MUST NOT filter")

	_, ok = LookupRole("treadmill")
	assert.False(t, ok)
}
