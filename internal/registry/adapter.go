package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/session"
	"github.com/bfree-trainer/bfree/internal/store"
	"github.com/sirupsen/logrus"
)

// Severity of a status message
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Status is the value stored under store.StatusKey
type Status struct {
	State    string   `json:"state"`
	Message  string   `json:"message,omitempty"`
	Severity Severity `json:"severity"`
}

// adapter copies one role's session events into the store
type adapter struct {
	role   string
	entry  *entry
	store  store.Store
	logger *logrus.Logger

	lastErr error
}

func (a *adapter) run(context.Context) {
	for ev := range a.entry.session.Events() {
		a.handle(ev)
	}
	a.log().Debug("Event stream closed")
}

func (a *adapter) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChanged:
		a.onStateChanged(ev)
	case session.EventRetrying:
		left := ev.Backoff.Remaining() + 1
		a.setStatus(ev.State, SeverityWarning, fmt.Sprintf("Retrying in %s... (%d tries left)", ev.Backoff.Delay, left))
	case session.EventConnected:
		a.onConnected(ev)
	case session.EventBattery:
		a.store.Set(store.BatteryKey(a.role), ev.Battery)
	case session.EventMeasurement:
		a.onMeasurement(ev)
	case session.EventFailed:
		a.lastErr = ev.Err
	case session.EventDisconnected:
		a.onDisconnected(ev)
	}
}

func (a *adapter) onStateChanged(ev session.Event) {
	name := deviceName(ev.Device)

	switch ev.State {
	case session.Discovering:
		a.lastErr = nil
		a.setStatus(ev.State, SeverityInfo, "Searching for devices")
	case session.Establishing:
		a.setStatus(ev.State, SeverityInfo, "Connecting to "+name)
	case session.Subscribing:
		a.setStatus(ev.State, SeverityInfo, "Subscribing to "+name)
	case session.Reconnecting:
		a.setStatus(ev.State, SeverityWarning, "Connection lost, reconnecting to "+name)
	case session.Connected:
		// written with the Connected event
	case session.Idle:
		// a failed pairing ends here; its options have no further use
		a.entry.takeOptions(ev.PairingID)
		a.clear()
		if cancelled(a.lastErr) {
			a.setStatus(ev.State, SeverityInfo, "Pairing cancelled")
		} else {
			a.setStatus(ev.State, SeverityError, "Pairing failed: "+describe(a.lastErr))
		}
	case session.Abandoned:
		a.setStatus(ev.State, SeverityError, "Connection lost: "+describe(a.lastErr))
	case session.Unpaired:
		a.setStatus(ev.State, SeverityInfo, "Unpaired")
	}
}

func (a *adapter) onConnected(ev session.Event) {
	name := deviceName(ev.Device)
	a.store.Set(store.DeviceKey(a.role), name)
	a.store.Set(store.BatteryKey(a.role), ev.Battery)
	a.setStatus(ev.State, SeverityInfo, "Paired with "+name)

	opts := a.entry.options(ev.PairingID)
	if opts == nil || opts.OnConnect == nil || ev.Link == nil {
		return
	}
	if err := opts.OnConnect(ev.Link.Context(), ev.Link); err != nil {
		a.log().WithFields(logrus.Fields{
			"device": name,
			"error":  err,
		}).Warn("Connect callback failed")
		a.setStatus(ev.State, SeverityError, fmt.Sprintf("Failed to configure %s: %v", name, err))
	}
}

func (a *adapter) onMeasurement(ev session.Event) {
	var value any = append([]byte(nil), ev.Value...)

	opts := a.entry.options(ev.PairingID)
	if opts != nil {
		if fn := opts.decoder(ev.Intent); fn != nil {
			decoded, err := fn(ev.Value)
			if err != nil {
				a.log().WithFields(logrus.Fields{
					"characteristic": ev.Intent.String(),
					"error":          err,
				}).Debug("Dropping undecodable value")
				return
			}
			value = decoded
		}
	}
	a.store.Set(store.ValueKey(a.role), value)
}

func (a *adapter) onDisconnected(ev session.Event) {
	a.clear()

	opts := a.entry.takeOptions(ev.PairingID)
	if opts != nil && opts.OnDisconnect != nil {
		opts.OnDisconnect(a.role)
	}
}

// clear resets the cached device keys of the role
func (a *adapter) clear() {
	a.store.Set(store.DeviceKey(a.role), nil)
	a.store.Set(store.BatteryKey(a.role), session.BatteryUnknown)
}

func (a *adapter) setStatus(state session.State, severity Severity, message string) {
	a.store.Set(store.StatusKey(a.role), Status{State: state.String(), Message: message, Severity: severity})
}

func (a *adapter) log() *logrus.Entry {
	return a.logger.WithField("role", a.role)
}

func deviceName(h *device.Handle) string {
	if h == nil {
		return "device"
	}
	return h.DisplayName()
}

func cancelled(err error) bool {
	return errors.Is(err, session.ErrPairingCancelled) || errors.Is(err, device.ErrUserCancelled)
}

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	var se *session.Error
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
