package testutils

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a testify mock of ble.Advertisement
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string { return m.Called().String(0) }

func (m *MockAdvertisement) ManufacturerData() []byte {
	v, _ := m.Called().Get(0).([]byte)
	return v
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	v, _ := m.Called().Get(0).([]ble.ServiceData)
	return v
}

func (m *MockAdvertisement) Services() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) TxPowerLevel() int { return m.Called().Int(0) }
func (m *MockAdvertisement) Connectable() bool { return m.Called().Bool(0) }

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) RSSI() int { return m.Called().Int(0) }

func (m *MockAdvertisement) Addr() ble.Addr {
	v, _ := m.Called().Get(0).(ble.Addr)
	return v
}

// AdvertisementBuilder builds mocked BLE advertisements for scanner tests
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []ble.UUID
	manufData   []byte
	txPower     int
	connectable bool
}

// NewAdvertisementBuilder starts a connectable advertisement with RSSI -50
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{rssi: -50, connectable: true}
}

// WithName sets the local name
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds advertised service UUIDs, e.g. "180d" or a full 128-bit form
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	for _, u := range uuids {
		b.services = append(b.services, ble.MustParse(u))
	}
	return b
}

// WithManufacturerData sets the manufacturer-specific data
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithTxPower sets the transmission power level
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = power
	return b
}

// WithConnectable sets whether the device accepts connections
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// Build returns a mock answering every ble.Advertisement method
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("Addr").Return(ble.NewAddr(b.address)).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("Services").Return(b.services).Maybe()
	adv.On("OverflowService").Return([]ble.UUID(nil)).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID(nil)).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("ServiceData").Return([]ble.ServiceData(nil)).Maybe()
	adv.On("TxPowerLevel").Return(b.txPower).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	return adv
}
