package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not present on the peripheral
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Unwrap lets callers treat every missing GATT resource as ErrUnsupported
func (e *NotFoundError) Unwrap() error {
	return ErrUnsupported
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// DiscoveryReason tells why a discovery did not produce a device
type DiscoveryReason string

const (
	UserCancelled DiscoveryReason = "user_cancelled"
	NotFound      DiscoveryReason = "not_found"
)

// DiscoveryError is returned by a Discoverer when no device was selected.
// It is reported once and never retried automatically.
type DiscoveryError struct {
	Reason DiscoveryReason
	Cause  error
}

func (e *DiscoveryError) Error() string {
	switch {
	case e.Reason == UserCancelled:
		return "pairing cancelled"
	case e.Cause != nil:
		return fmt.Sprintf("no device found: %v", e.Cause)
	default:
		return "no device found"
	}
}

func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// Is matches any DiscoveryError with the same Reason
func (e *DiscoveryError) Is(target error) bool {
	t, ok := target.(*DiscoveryError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinels for errors.Is comparisons
var (
	ErrUserCancelled  = &DiscoveryError{Reason: UserCancelled}
	ErrDeviceNotFound = &DiscoveryError{Reason: NotFound}
)

// NormalizeError maps known backend error strings to structured error types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Handle identifies a physical peripheral. It is returned by discovery and
// stays valid across reconnects of the same device.
type Handle struct {
	ID      string
	Name    string
	Address string
}

// DisplayName returns the advertised name, falling back to the address
func (h *Handle) DisplayName() string {
	if h == nil {
		return ""
	}
	if h.Name != "" {
		return h.Name
	}
	return h.Address
}

// Filter narrows discovery to devices advertising at least one of Services.
// An empty filter accepts any device.
type Filter struct {
	Services []string
}

// AcceptsAny reports whether the filter matches every device
func (f Filter) AcceptsAny() bool {
	return len(f.Services) == 0
}

// Matches reports whether an advertised service list satisfies the filter
func (f Filter) Matches(advertised []string) bool {
	if f.AcceptsAny() {
		return true
	}
	for _, want := range f.Services {
		w := NormalizeUUID(want)
		for _, got := range advertised {
			if NormalizeUUID(got) == w {
				return true
			}
		}
	}
	return false
}

// Discoverer finds one device matching a filter
type Discoverer interface {
	Discover(ctx context.Context, filter Filter) (*Handle, error)
}

// Opener opens a reliable GATT channel to a known device
type Opener interface {
	Open(ctx context.Context, handle *Handle) (Channel, error)
}

// NotificationHandler receives raw characteristic values
type NotificationHandler func(data []byte)

// Channel is one open connection to a peripheral.
// A Channel is never reused after Close or after Disconnected fires.
type Channel interface {
	Handle() *Handle

	// Read reads the current value once. Missing characteristics yield an
	// error wrapping ErrUnsupported.
	Read(ctx context.Context, service, characteristic string) ([]byte, error)

	// Subscribe enables push delivery. Missing or non-notifiable
	// characteristics yield an error wrapping ErrUnsupported.
	Subscribe(service, characteristic string, handler NotificationHandler) error
	Unsubscribe(service, characteristic string) error

	Write(ctx context.Context, service, characteristic string, data []byte, withResponse bool) error

	// Disconnected is closed when the link drops or the channel is closed
	Disconnected() <-chan struct{}

	// Close tears the link down. Safe to call more than once.
	Close() error
}
