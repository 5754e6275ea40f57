package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/link"
	"github.com/bfree-trainer/bfree/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	roleErr := func(err error) error {
		return &session.Error{Role: "heart_rate", Op: "pair", Err: err}
	}

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"bluetooth off", fmt.Errorf("scan failed: %w", device.ErrBluetoothOff), "Bluetooth is turned off, turn it on and try again"},
		{"cancelled", roleErr(&device.DiscoveryError{Reason: device.UserCancelled, Cause: context.Canceled}), "heart_rate: pairing cancelled"},
		{"pairing cancelled", roleErr(session.ErrPairingCancelled), "heart_rate: pairing cancelled"},
		{"not found", roleErr(&device.DiscoveryError{Reason: device.NotFound}), "heart_rate: no matching device found, make sure the sensor is awake and in range"},
		{"connect exhausted", roleErr(&link.ConnectError{Attempts: 3, Cause: errors.New("le-connection-abort")}), "heart_rate: could not connect after 3 attempts: le-connection-abort"},
		{"superseded", roleErr(session.ErrUnpaired), "heart_rate: pairing replaced by a newer request"},
		{"other session error", roleErr(errors.New("boom")), "heart_rate: boom"},
		{"plain error", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}
