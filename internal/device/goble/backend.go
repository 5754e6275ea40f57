package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DefaultScanTimeout bounds a discovery that finds nothing
const DefaultScanTimeout = 30 * time.Second

// Backend discovers and opens devices over one radio
type Backend struct {
	radio       Radio
	scanTimeout time.Duration
	logger      *logrus.Logger
}

// New creates a Backend on the host adapter
func New(scanTimeout time.Duration, logger *logrus.Logger) (*Backend, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", device.NormalizeError(err))
	}
	return NewWithRadio(NewRadio(dev), scanTimeout, logger), nil
}

// NewWithRadio creates a Backend on radio. scanTimeout <= 0 selects DefaultScanTimeout.
func NewWithRadio(radio Radio, scanTimeout time.Duration, logger *logrus.Logger) *Backend {
	if logger == nil {
		logger = logrus.New()
	}
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &Backend{radio: radio, scanTimeout: scanTimeout, logger: logger}
}

// Discover scans until the first connectable device matching filter.
// Cancelling ctx reports UserCancelled; an expired scan reports NotFound.
func (b *Backend) Discover(ctx context.Context, filter device.Filter) (*device.Handle, error) {
	scanCtx, cancel := context.WithTimeout(ctx, b.scanTimeout)
	defer cancel()

	found := make(chan ble.Advertisement, 1)
	handler := func(a ble.Advertisement) {
		if !a.Connectable() || !filter.Matches(advertisedServices(a)) {
			return
		}
		select {
		case found <- a:
			cancel()
		case <-scanCtx.Done():
			// Another advertisement already matched; return so Scan can unblock
		}
	}

	b.logger.WithFields(logrus.Fields{
		"services": strings.Join(filter.Services, ","),
		"timeout":  b.scanTimeout,
	}).Info("Scanning for devices...")

	err := b.radio.Scan(scanCtx, false, handler)

	select {
	case a := <-found:
		h := handleFromAdvertisement(a)
		b.logger.WithFields(logrus.Fields{
			"name":    h.Name,
			"address": h.Address,
			"rssi":    a.RSSI(),
		}).Info("Device discovered")
		return h, nil
	default:
	}

	if ctx.Err() != nil {
		return nil, &device.DiscoveryError{Reason: device.UserCancelled, Cause: ctx.Err()}
	}
	// go-ble returns the context error once the scan stops
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}
	return nil, &device.DiscoveryError{Reason: device.NotFound}
}

// Open dials handle and discovers its GATT profile
func (b *Backend) Open(ctx context.Context, handle *device.Handle) (device.Channel, error) {
	if handle == nil || strings.TrimSpace(handle.Address) == "" {
		return nil, fmt.Errorf("device address is empty: %w", device.ErrNotInitialized)
	}

	b.logger.WithField("address", handle.Address).Debug("Dialing BLE device...")
	client, err := b.radio.Dial(ctx, handle.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", handle.Address, device.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			b.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	ch := newChannel(*handle, client, profile, b.logger)
	b.logger.WithFields(logrus.Fields{
		"address":         handle.Address,
		"services":        len(profile.Services),
		"characteristics": len(ch.chars),
	}).Info("BLE device connected")
	return ch, nil
}

// Close stops the radio
func (b *Backend) Close() error {
	return b.radio.Stop()
}

func advertisedServices(a ble.Advertisement) []string {
	uuids := append(a.Services(), a.OverflowService()...)
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		result = append(result, u.String())
	}
	return result
}

func handleFromAdvertisement(a ble.Advertisement) *device.Handle {
	addr := a.Addr().String()
	return &device.Handle{
		ID:      strings.ToLower(addr),
		Name:    a.LocalName(),
		Address: addr,
	}
}
