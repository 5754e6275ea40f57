package device

import (
	"fmt"
	"strings"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// Well-known GATT services and characteristics used by cycling sensors
const (
	ServiceBattery                 = "180f"
	CharacteristicBatteryLevel     = "2a19"
	ServiceHeartRate               = "180d"
	CharacteristicHeartRate        = "2a37"
	ServiceCyclingPower            = "1818"
	CharacteristicCyclingPower     = "2a63"
	ServiceCyclingSpeedCadence     = "1816"
	CharacteristicCSCMeasurement   = "2a5b"
	ServiceFitnessMachine          = "1826"
	CharacteristicIndoorBikeData   = "2ad2"
	ServiceTacxFEC                 = "6e40fec1b5a3f393e0a9e50e24dcca9e"
	CharacteristicTacxFECRx        = "6e40fec2b5a3f393e0a9e50e24dcca9e"
	CharacteristicTacxFECTx        = "6e40fec3b5a3f393e0a9e50e24dcca9e"
	ServiceGenericAccess           = "1800"
	CharacteristicDeviceName       = "2a00"
	CharacteristicFitnessMachineCP = "2ad9"
)

// knownNames maps Web Bluetooth style names to UUIDs
var knownNames = map[string]string{
	"battery_service":               ServiceBattery,
	"battery_level":                 CharacteristicBatteryLevel,
	"heart_rate":                    ServiceHeartRate,
	"heart_rate_measurement":        CharacteristicHeartRate,
	"cycling_power":                 ServiceCyclingPower,
	"cycling_power_measurement":     CharacteristicCyclingPower,
	"cycling_speed_and_cadence":     ServiceCyclingSpeedCadence,
	"csc_measurement":               CharacteristicCSCMeasurement,
	"fitness_machine":               ServiceFitnessMachine,
	"indoor_bike_data":              CharacteristicIndoorBikeData,
	"fitness_machine_control_point": CharacteristicFitnessMachineCP,
	"generic_access":                ServiceGenericAccess,
	"gap.device_name":               CharacteristicDeviceName,
}

// ResolveUUID turns a known GATT name into its UUID; anything else is returned unchanged
func ResolveUUID(nameOrUUID string) string {
	if uuid, ok := knownNames[strings.ToLower(strings.TrimSpace(nameOrUUID))]; ok {
		return uuid
	}
	return nameOrUUID
}

// KnownName returns the GATT name of uuid, or "" when it has none
func KnownName(uuid string) string {
	u := NormalizeUUID(uuid)
	for name, known := range knownNames {
		if known == u && !strings.Contains(name, ".") {
			return name
		}
	}
	return ""
}

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix. Full 128-bit UUIDs in the Bluetooth SIG base form
// (0000xxxx-0000-1000-8000-00805f9b34fb) are reduced to the 16-bit short form.
// Known names such as "heart_rate" are resolved first.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(ResolveUUID(uuid)))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if !isHex(normalized) || (len(normalized) != 4 && len(normalized) != 8 && len(normalized) != 32) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
