package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

type mockRadio struct {
	mock.Mock
}

func (m *mockRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *mockRadio) Dial(ctx context.Context, address string) (Client, error) {
	args := m.Called(ctx, address)
	c, _ := args.Get(0).(Client)
	return c, args.Error(1)
}

func (m *mockRadio) Stop() error {
	return m.Called().Error(0)
}

type mockClient struct {
	mock.Mock
	disconnected chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (m *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *mockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// scanWith makes Scan deliver advs and then block until its context ends
func scanWith(radio *mockRadio, advs ...ble.Advertisement) {
	radio.On("Scan", mock.Anything, false, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		h := args.Get(2).(ble.AdvHandler)
		for _, a := range advs {
			h(a)
		}
		<-ctx.Done()
	}).Return(context.Canceled)
}
