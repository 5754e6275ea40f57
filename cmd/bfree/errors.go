package main

import (
	"errors"
	"fmt"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/link"
	"github.com/bfree-trainer/bfree/internal/session"
)

// Command-level errors
var (
	// ErrNoRoles is returned when neither arguments nor the config name a role
	ErrNoRoles = errors.New("no roles to pair")

	// ErrAllFailed is returned when no role could be paired
	ErrAllFailed = errors.New("no role could be paired")
)

// FormatUserError turns internal errors into a message fit for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	prefix := ""
	var se *session.Error
	if errors.As(err, &se) {
		prefix = se.Role + ": "
	}

	var connectErr *link.ConnectError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return prefix + "Bluetooth is turned off, turn it on and try again"
	case errors.Is(err, device.ErrUserCancelled), errors.Is(err, session.ErrPairingCancelled):
		return prefix + "pairing cancelled"
	case errors.Is(err, device.ErrDeviceNotFound):
		return prefix + "no matching device found, make sure the sensor is awake and in range"
	case errors.As(err, &connectErr):
		return fmt.Sprintf("%scould not connect after %d attempts: %v", prefix, connectErr.Attempts, connectErr.Cause)
	case errors.Is(err, session.ErrUnpaired):
		return prefix + "pairing replaced by a newer request"
	case se != nil:
		return prefix + se.Err.Error()
	default:
		return err.Error()
	}
}
