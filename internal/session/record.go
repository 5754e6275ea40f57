package session

import (
	"time"

	"github.com/bfree-trainer/bfree/internal/backoff"
	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/oklog/ulid/v2"
)

// BatteryUnknown is the battery level before a reading arrives or when the
// device has no battery service
const BatteryUnknown = -1

// Intent names a characteristic the session keeps subscribed across reconnects
type Intent struct {
	Service        string
	Characteristic string
}

// NewIntent returns an Intent with normalized UUIDs. Known names such as
// "heart_rate" are accepted.
func NewIntent(service, characteristic string) Intent {
	return Intent{
		Service:        device.NormalizeUUID(service),
		Characteristic: device.NormalizeUUID(characteristic),
	}
}

func (i Intent) String() string {
	return i.Service + "/" + i.Characteristic
}

// BatteryIntent is subscribed on every session
var BatteryIntent = Intent{Service: device.ServiceBattery, Characteristic: device.CharacteristicBatteryLevel}

// mergeIntents puts the battery intent first and drops duplicates
func mergeIntents(extra []Intent) []Intent {
	result := []Intent{BatteryIntent}
	seen := map[Intent]bool{BatteryIntent: true}
	for _, intent := range extra {
		intent = NewIntent(intent.Service, intent.Characteristic)
		if seen[intent] {
			continue
		}
		seen[intent] = true
		result = append(result, intent)
	}
	return result
}

// Request starts a pairing
type Request struct {
	// ID identifies the pairing in events; a zero ID is generated
	ID      ulid.ULID
	Filter  device.Filter
	Intents []Intent
}

// Record is a point-in-time snapshot of a session
type Record struct {
	Role        string
	PairingID   ulid.ULID
	Device      *device.Handle
	State       State
	Backoff     backoff.State
	Intents     []Intent
	Unsupported []Intent
	Battery     int
	LastError   error
	UpdatedAt   time.Time
}

// clone returns a copy that shares nothing mutable with r
func (r Record) clone() Record {
	c := r
	if r.Device != nil {
		h := *r.Device
		c.Device = &h
	}
	c.Intents = append([]Intent(nil), r.Intents...)
	c.Unsupported = append([]Intent(nil), r.Unsupported...)
	return c
}
