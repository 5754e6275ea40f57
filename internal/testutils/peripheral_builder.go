package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bfree-trainer/bfree/internal/device"
)

// CharacteristicConfig represents a characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// Has reports whether the characteristic declares the property
func (c CharacteristicConfig) Has(property string) bool {
	if c.Properties == "" {
		return property == "read" || property == "notify" || property == "write"
	}
	for _, p := range strings.Split(c.Properties, ",") {
		if strings.TrimSpace(p) == property {
			return true
		}
	}
	return false
}

// ServiceConfig represents a service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

type peripheralProfile struct {
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds FakePeripheral values
type PeripheralBuilder struct {
	profile peripheralProfile
}

// NewPeripheralBuilder creates a builder for a peripheral with no services
func NewPeripheralBuilder(name, address string) *PeripheralBuilder {
	return &PeripheralBuilder{
		profile: peripheralProfile{Name: name, Address: address},
	}
}

// WithService adds a service to the peripheral
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithBattery adds the standard battery service with the given level
func (b *PeripheralBuilder) WithBattery(level byte) *PeripheralBuilder {
	return b.WithService(device.ServiceBattery).
		WithCharacteristic(device.CharacteristicBatteryLevel, "read,notify", []byte{level})
}

// FromJSON replaces the profile with one decoded from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var profile peripheralProfile
	if err := json.Unmarshal([]byte(jsonStr), &profile); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if profile.Name == "" {
		profile.Name = b.profile.Name
	}
	if profile.Address == "" {
		profile.Address = b.profile.Address
	}

	b.profile = profile
	return b
}

// Build returns the configured peripheral
func (b *PeripheralBuilder) Build() *FakePeripheral {
	services := make([]ServiceConfig, len(b.profile.Services))
	for i, svc := range b.profile.Services {
		services[i] = ServiceConfig{
			UUID:            svc.UUID,
			Characteristics: append([]CharacteristicConfig(nil), svc.Characteristics...),
		}
	}
	return &FakePeripheral{
		Handle: device.Handle{
			ID:      strings.ToLower(b.profile.Address),
			Name:    b.profile.Name,
			Address: b.profile.Address,
		},
		Services: services,
	}
}

// HeartRateMonitor returns a strap exposing heart rate and battery
func HeartRateMonitor(name, address string) *PeripheralBuilder {
	return NewPeripheralBuilder(name, address).
		WithService(device.ServiceHeartRate).
		WithCharacteristic(device.CharacteristicHeartRate, "notify", nil).
		WithBattery(80)
}

// PowerMeter returns a cycling power meter without a battery service
func PowerMeter(name, address string) *PeripheralBuilder {
	return NewPeripheralBuilder(name, address).
		WithService(device.ServiceCyclingPower).
		WithCharacteristic(device.CharacteristicCyclingPower, "notify", nil)
}

// SmartTrainer returns an FE-C over BLE trainer
func SmartTrainer(name, address string) *PeripheralBuilder {
	return NewPeripheralBuilder(name, address).
		WithService(device.ServiceTacxFEC).
		WithCharacteristic(device.CharacteristicTacxFECRx, "notify", nil).
		WithCharacteristic(device.CharacteristicTacxFECTx, "write", nil).
		WithBattery(100)
}
