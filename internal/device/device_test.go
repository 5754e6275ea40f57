package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"darwin powered off", "central manager has invalid state: have=4 want=5: is Bluetooth turned on?", ErrBluetoothOff},
		{"bluetooth off", "Bluetooth is turned off", ErrBluetoothOff},
		{"not connected", "device not connected", ErrNotConnected},
		{"disconnected", "peripheral Disconnected", ErrNotConnected},
		{"already connected", "device already connected", ErrAlreadyConnected},
		{"not initialized", "connection is not initialized", ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := errors.New(tt.msg)
			err := NormalizeError(orig)

			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.msg, "original message MUST be preserved")
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("boom")
		assert.Same(t, orig, NormalizeError(orig))
		assert.NoError(t, NormalizeError(nil))
	})
}

func TestConnectionError(t *testing.T) {
	err := fmt.Errorf("write: %w", &ConnectionError{State: NotConnected, Msg: "link lost"})

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(err, NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))
	assert.Equal(t, "not_connected: link lost", (&ConnectionError{State: NotConnected, Msg: "link lost"}).Error())
	assert.Equal(t, "already_connected", ErrAlreadyConnected.Error())
}

func TestDiscoveryError(t *testing.T) {
	cause := errors.New("context canceled")
	cancelled := &DiscoveryError{Reason: UserCancelled, Cause: cause}
	notFound := &DiscoveryError{Reason: NotFound}

	assert.ErrorIs(t, cancelled, ErrUserCancelled)
	assert.ErrorIs(t, cancelled, cause, "cause MUST be unwrapped")
	assert.NotErrorIs(t, cancelled, ErrDeviceNotFound)
	assert.ErrorIs(t, fmt.Errorf("pair: %w", notFound), ErrDeviceNotFound)

	assert.Equal(t, "pairing cancelled", cancelled.Error())
	assert.Equal(t, "no device found", notFound.Error())
	assert.Equal(t, "no device found: timeout", (&DiscoveryError{Reason: NotFound, Cause: errors.New("timeout")}).Error())
}

func TestNotFoundError(t *testing.T) {
	svc := &NotFoundError{Resource: "service", UUIDs: []string{"180d"}}
	char := &NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}

	assert.ErrorIs(t, svc, ErrUnsupported, "missing resources MUST read as unsupported")
	assert.Equal(t, `service "180d" not found`, svc.Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180d"`, char.Error())
	assert.Equal(t, "descriptor not found", (&NotFoundError{Resource: "descriptor"}).Error())
}

func TestFilter(t *testing.T) {
	hr := Filter{Services: []string{"heart_rate"}}
	csc := Filter{Services: []string{ServiceCyclingPower, ServiceCyclingSpeedCadence}}

	assert.True(t, Filter{}.AcceptsAny())
	assert.True(t, Filter{}.Matches(nil), "empty filter MUST accept any device")
	assert.True(t, hr.Matches([]string{"0000180D-0000-1000-8000-00805F9B34FB"}))
	assert.False(t, hr.Matches([]string{ServiceBattery}))
	assert.False(t, hr.Matches(nil), "device advertising nothing MUST NOT match a service filter")
	assert.True(t, csc.Matches([]string{ServiceBattery, "1816"}), "any one service MUST be enough")
}

func TestHandleDisplayName(t *testing.T) {
	var nilHandle *Handle

	assert.Equal(t, "KICKR", (&Handle{Name: "KICKR", Address: "AA"}).DisplayName())
	assert.Equal(t, "AA:BB", (&Handle{Address: "AA:BB"}).DisplayName())
	assert.Empty(t, nilHandle.DisplayName())
}
