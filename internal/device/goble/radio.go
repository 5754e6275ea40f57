// Package goble implements the device interfaces on top of go-ble.
package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
)

// Client is the part of ble.Client a Channel uses
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ClearSubscriptions() error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Radio scans and dials. It is satisfied by a ble.Device through NewRadio.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, address string) (Client, error)
	Stop() error
}

// ErrUnsupportedPlatform is returned by DeviceFactory where go-ble has no backend
var ErrUnsupportedPlatform = errors.New("bluetooth is not supported on this platform")

// DeviceFactory creates the host ble.Device (can be overridden in tests)
var DeviceFactory = newDevice

type bleRadio struct {
	dev ble.Device
}

// NewRadio adapts a ble.Device
func NewRadio(dev ble.Device) Radio {
	return &bleRadio{dev: dev}
}

func (r *bleRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return r.dev.Scan(ctx, allowDup, h)
}

func (r *bleRadio) Dial(ctx context.Context, address string) (Client, error) {
	return r.dev.Dial(ctx, ble.NewAddr(address))
}

func (r *bleRadio) Stop() error {
	return r.dev.Stop()
}
