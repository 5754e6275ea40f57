package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/groutine"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Channel is a device.Channel over one go-ble client
type Channel struct {
	handle device.Handle
	client Client
	chars  map[string]*ble.Characteristic
	logger *logrus.Logger

	mu         sync.Mutex
	indicate   map[string]bool // subscribed characteristics, true when by indication
	writeMutex sync.Mutex

	closeOnce    sync.Once
	closeErr     error
	closing      chan struct{}
	disconnected chan struct{}
}

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

func newChannel(handle device.Handle, client Client, profile *ble.Profile, logger *logrus.Logger) *Channel {
	c := &Channel{
		handle:       handle,
		client:       client,
		chars:        make(map[string]*ble.Characteristic),
		logger:       logger,
		indicate:     make(map[string]bool),
		closing:      make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			c.chars[charKey(svc.UUID.String(), char.UUID.String())] = char
		}
	}

	groutine.Go(context.Background(), "ble-channel-monitor", func(context.Context) {
		defer close(c.disconnected)
		select {
		case <-client.Disconnected():
			c.logger.WithField("address", c.handle.Address).Warn("BLE device reported disconnection")
		case <-c.closing:
		}
	})
	return c
}

func (c *Channel) lookup(service, characteristic string) (*ble.Characteristic, error) {
	char, ok := c.chars[charKey(service, characteristic)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return char, nil
}

func (c *Channel) live() error {
	select {
	case <-c.disconnected:
		return device.ErrNotConnected
	default:
		return nil
	}
}

// call runs a blocking go-ble request, giving up when ctx ends
func (c *Channel) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return device.NormalizeError(err)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.disconnected:
		return device.ErrNotConnected
	}
}

// Handle returns the device this channel is connected to
func (c *Channel) Handle() *device.Handle {
	h := c.handle
	return &h
}

// Read reads a characteristic once
func (c *Channel) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	char, err := c.lookup(service, characteristic)
	if err != nil {
		return nil, err
	}
	if char.Property&ble.CharRead == 0 {
		return nil, fmt.Errorf("characteristic %s is not readable: %w", char.UUID, device.ErrUnsupported)
	}

	var value []byte
	err = c.call(ctx, func() error {
		var readErr error
		value, readErr = c.client.ReadCharacteristic(char)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Subscribe enables notifications, or indications when the characteristic
// only supports those
func (c *Channel) Subscribe(service, characteristic string, handler device.NotificationHandler) error {
	if err := c.live(); err != nil {
		return err
	}
	char, err := c.lookup(service, characteristic)
	if err != nil {
		return err
	}

	var ind bool
	switch {
	case char.Property&ble.CharNotify != 0:
	case char.Property&ble.CharIndicate != 0:
		ind = true
	default:
		return fmt.Errorf("characteristic %s does not notify: %w", char.UUID, device.ErrUnsupported)
	}

	if err := c.client.Subscribe(char, ind, func(data []byte) { handler(data) }); err != nil {
		return device.NormalizeError(err)
	}

	c.mu.Lock()
	c.indicate[charKey(service, characteristic)] = ind
	c.mu.Unlock()
	return nil
}

// Unsubscribe disables push delivery
func (c *Channel) Unsubscribe(service, characteristic string) error {
	key := charKey(service, characteristic)
	c.mu.Lock()
	ind, ok := c.indicate[key]
	delete(c.indicate, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if err := c.live(); err != nil {
		return err
	}
	char, err := c.lookup(service, characteristic)
	if err != nil {
		return err
	}
	return device.NormalizeError(c.client.Unsubscribe(char, ind))
}

// Write sends data, with a response when withResponse is set
func (c *Channel) Write(ctx context.Context, service, characteristic string, data []byte, withResponse bool) error {
	if err := c.live(); err != nil {
		return err
	}
	char, err := c.lookup(service, characteristic)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.call(ctx, func() error {
		return c.client.WriteCharacteristic(char, data, !withResponse)
	})
}

// Disconnected is closed when the link drops or the channel is closed
func (c *Channel) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Close clears subscriptions and cancels the connection
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if err := c.client.ClearSubscriptions(); err != nil {
			c.logger.WithField("error", err).Debug("Failed to clear subscriptions")
		}
		c.closeErr = device.NormalizeError(c.client.CancelConnection())
		close(c.closing)
		<-c.disconnected

		c.logger.WithField("address", c.handle.Address).Info("BLE device disconnected")
	})
	return c.closeErr
}
