package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bfree-trainer/bfree/internal/device"
)

// FakePeripheral is a device the FakePlatform can discover and open.
// Build one with PeripheralBuilder.
type FakePeripheral struct {
	Handle   device.Handle
	Services []ServiceConfig
}

// Advertised returns the service UUIDs the peripheral advertises
func (p *FakePeripheral) Advertised() []string {
	result := make([]string, 0, len(p.Services))
	for _, svc := range p.Services {
		result = append(result, svc.UUID)
	}
	return result
}

func (p *FakePeripheral) lookup(service, characteristic string) (*CharacteristicConfig, error) {
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)
	for i := range p.Services {
		if device.NormalizeUUID(p.Services[i].UUID) != svcUUID {
			continue
		}
		for j := range p.Services[i].Characteristics {
			c := &p.Services[i].Characteristics[j]
			if device.NormalizeUUID(c.UUID) == charUUID {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

// FakePlatform implements device.Discoverer and device.Opener with scripted
// outcomes. It is safe for concurrent use.
type FakePlatform struct {
	mu sync.Mutex

	peripherals  []*FakePeripheral
	discoverErrs []error
	discoverHold bool
	discoveries  int

	openErrs    []error
	openDefault error
	openHold    bool
	opens       int
	openedFor   []string

	channels []*FakeChannel
}

// NewFakePlatform creates a platform with the given peripherals in range
func NewFakePlatform(peripherals ...*FakePeripheral) *FakePlatform {
	return &FakePlatform{peripherals: peripherals}
}

// AddPeripheral brings another device in range
func (p *FakePlatform) AddPeripheral(peripheral *FakePeripheral) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peripherals = append(p.peripherals, peripheral)
}

// FailDiscovery queues errors returned by the next Discover calls
func (p *FakePlatform) FailDiscovery(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverErrs = append(p.discoverErrs, errs...)
}

// HoldDiscovery makes Discover block until its context is cancelled
func (p *FakePlatform) HoldDiscovery(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverHold = hold
}

// FailOpens queues errors returned by the next Open calls; nil entries succeed
func (p *FakePlatform) FailOpens(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErrs = append(p.openErrs, errs...)
}

// FailAllOpens makes every Open without a queued outcome fail with err
func (p *FakePlatform) FailAllOpens(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openDefault = err
}

// HoldOpens makes Open block until its context is cancelled
func (p *FakePlatform) HoldOpens(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openHold = hold
}

// DiscoverCount returns the number of Discover calls so far
func (p *FakePlatform) DiscoverCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveries
}

// OpenCount returns the number of Open calls so far
func (p *FakePlatform) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// OpenedAddresses returns the handle address of every Open call
func (p *FakePlatform) OpenedAddresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.openedFor...)
}

// Channels returns every channel opened so far, oldest first
func (p *FakePlatform) Channels() []*FakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeChannel(nil), p.channels...)
}

// LastChannel returns the most recently opened channel or nil
func (p *FakePlatform) LastChannel() *FakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[len(p.channels)-1]
}

// Discover returns the first peripheral matching filter
func (p *FakePlatform) Discover(ctx context.Context, filter device.Filter) (*device.Handle, error) {
	p.mu.Lock()
	p.discoveries++
	hold := p.discoverHold
	var scripted error
	if len(p.discoverErrs) > 0 {
		scripted = p.discoverErrs[0]
		p.discoverErrs = p.discoverErrs[1:]
	}
	peripherals := append([]*FakePeripheral(nil), p.peripherals...)
	p.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, &device.DiscoveryError{Reason: device.UserCancelled, Cause: ctx.Err()}
	}
	if scripted != nil {
		return nil, scripted
	}

	for _, peripheral := range peripherals {
		if filter.Matches(peripheral.Advertised()) {
			h := peripheral.Handle
			return &h, nil
		}
	}
	return nil, &device.DiscoveryError{Reason: device.NotFound}
}

// Open returns a new FakeChannel or the next scripted error
func (p *FakePlatform) Open(ctx context.Context, handle *device.Handle) (device.Channel, error) {
	p.mu.Lock()
	p.opens++
	p.openedFor = append(p.openedFor, handle.Address)
	hold := p.openHold
	var err error
	scripted := false
	if len(p.openErrs) > 0 {
		err = p.openErrs[0]
		p.openErrs = p.openErrs[1:]
		scripted = true
	}
	if !scripted {
		err = p.openDefault
	}
	var peripheral *FakePeripheral
	for _, candidate := range p.peripherals {
		if candidate.Handle.Address == handle.Address {
			peripheral = candidate
			break
		}
	}
	p.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if peripheral == nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: out of range", handle.Address)
	}

	ch := newFakeChannel(handle, peripheral)
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return ch, nil
}

// Write records one Write call on a FakeChannel
type Write struct {
	Service        string
	Characteristic string
	Data           []byte
	WithResponse   bool
}

// FakeChannel implements device.Channel over a FakePeripheral
type FakeChannel struct {
	mu           sync.Mutex
	handle       device.Handle
	peripheral   *FakePeripheral
	handlers     map[string]device.NotificationHandler
	writes       []Write
	closed       bool
	closeCalls   int
	disconnected chan struct{}
	once         sync.Once
}

func newFakeChannel(handle *device.Handle, peripheral *FakePeripheral) *FakeChannel {
	return &FakeChannel{
		handle:       *handle,
		peripheral:   peripheral,
		handlers:     make(map[string]device.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func key(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

func (c *FakeChannel) Handle() *device.Handle {
	h := c.handle
	return &h
}

func (c *FakeChannel) Read(_ context.Context, service, characteristic string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, device.ErrNotConnected
	}
	char, err := c.peripheral.lookup(service, characteristic)
	if err != nil {
		return nil, err
	}
	if !char.Has("read") {
		return nil, fmt.Errorf("characteristic %s is not readable: %w", characteristic, device.ErrUnsupported)
	}
	return append([]byte(nil), char.Value...), nil
}

func (c *FakeChannel) Subscribe(service, characteristic string, handler device.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return device.ErrNotConnected
	}
	char, err := c.peripheral.lookup(service, characteristic)
	if err != nil {
		return err
	}
	if !char.Has("notify") && !char.Has("indicate") {
		return fmt.Errorf("characteristic %s has no notify property: %w", characteristic, device.ErrUnsupported)
	}
	c.handlers[key(service, characteristic)] = handler
	return nil
}

func (c *FakeChannel) Unsubscribe(service, characteristic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers, key(service, characteristic))
	if c.closed {
		return device.ErrNotConnected
	}
	return nil
}

func (c *FakeChannel) Write(_ context.Context, service, characteristic string, data []byte, withResponse bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return device.ErrNotConnected
	}
	if _, err := c.peripheral.lookup(service, characteristic); err != nil {
		return err
	}
	c.writes = append(c.writes, Write{
		Service:        device.NormalizeUUID(service),
		Characteristic: device.NormalizeUUID(characteristic),
		Data:           append([]byte(nil), data...),
		WithResponse:   withResponse,
	})
	return nil
}

func (c *FakeChannel) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *FakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.closeCalls++
	c.mu.Unlock()

	c.once.Do(func() { close(c.disconnected) })
	return nil
}

// Drop simulates the peripheral going out of range
func (c *FakeChannel) Drop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.once.Do(func() { close(c.disconnected) })
}

// Notify pushes a value to the registered handler. It reports whether a
// handler was subscribed.
func (c *FakeChannel) Notify(service, characteristic string, value []byte) bool {
	c.mu.Lock()
	handler, ok := c.handlers[key(service, characteristic)]
	c.mu.Unlock()

	if !ok {
		return false
	}
	handler(value)
	return true
}

// Subscribed reports whether a push handler is registered for the characteristic
func (c *FakeChannel) Subscribed(service, characteristic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[key(service, characteristic)]
	return ok
}

// SubscriptionCount returns the number of registered push handlers
func (c *FakeChannel) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Closed reports whether Close or Drop was called
func (c *FakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCalls returns how many times Close was called
func (c *FakeChannel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Writes returns every recorded write
func (c *FakeChannel) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// ErrConnectFailed is a stand-in for a transient link failure
var ErrConnectFailed = errors.New("connection attempt failed")
