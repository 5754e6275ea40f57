package registry

import (
	"sort"

	"github.com/bfree-trainer/bfree/internal/decode"
	"github.com/bfree-trainer/bfree/internal/device"
)

// Role is a built-in sensor role
type Role struct {
	Name            string
	Description     string
	Services        []string
	Characteristics []Characteristic
}

// Options returns pairing options for the role. anyDevice drops the service
// filter so every advertising device is accepted.
func (r Role) Options(anyDevice bool) PairOptions {
	opts := PairOptions{Characteristics: append([]Characteristic(nil), r.Characteristics...)}
	if !anyDevice {
		opts.Filter = device.Filter{Services: append([]string(nil), r.Services...)}
	}
	return opts
}

var cscMeasurement = Characteristic{
	Service:        device.ServiceCyclingSpeedCadence,
	Characteristic: device.CharacteristicCSCMeasurement,
	Decode:         decode.CSCMeasurement,
}

var builtinRoles = map[string]Role{
	"smart_trainer": {
		Name:        "smart_trainer",
		Description: "Smart trainer speaking FE-C over BLE",
		Services:    []string{device.ServiceTacxFEC},
		Characteristics: []Characteristic{
			{Service: device.ServiceTacxFEC, Characteristic: device.CharacteristicTacxFECRx, Decode: decode.Raw},
		},
	},
	"cycling_power": {
		Name:        "cycling_power",
		Description: "Power meter",
		Services:    []string{device.ServiceCyclingPower},
		Characteristics: []Characteristic{
			{Service: device.ServiceCyclingPower, Characteristic: device.CharacteristicCyclingPower, Decode: decode.CyclingPowerMeasurement},
		},
	},
	"cycling_speed_and_cadence": {
		Name:            "cycling_speed_and_cadence",
		Description:     "Combined speed and cadence sensor",
		Services:        []string{device.ServiceCyclingSpeedCadence},
		Characteristics: []Characteristic{cscMeasurement},
	},
	"cycling_speed": {
		Name:            "cycling_speed",
		Description:     "Speed sensor",
		Services:        []string{device.ServiceCyclingSpeedCadence},
		Characteristics: []Characteristic{cscMeasurement},
	},
	"cycling_cadence": {
		Name:            "cycling_cadence",
		Description:     "Cadence sensor",
		Services:        []string{device.ServiceCyclingSpeedCadence},
		Characteristics: []Characteristic{cscMeasurement},
	},
	"heart_rate": {
		Name:        "heart_rate",
		Description: "Heart rate monitor",
		Services:    []string{device.ServiceHeartRate},
		Characteristics: []Characteristic{
			{Service: device.ServiceHeartRate, Characteristic: device.CharacteristicHeartRate, Decode: decode.HeartRateMeasurement},
		},
	},
}

// LookupRole returns the built-in role called name
func LookupRole(name string) (Role, bool) {
	r, ok := builtinRoles[name]
	return r, ok
}

// BuiltinRoles lists the built-in roles sorted by name
func BuiltinRoles() []Role {
	roles := make([]Role, 0, len(builtinRoles))
	for _, r := range builtinRoles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles
}
