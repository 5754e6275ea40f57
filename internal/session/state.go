package session

import "fmt"

// State is the lifecycle position of a Session
type State int

const (
	Idle State = iota
	Discovering
	Establishing
	Subscribing
	Connected
	Reconnecting
	Abandoned
	Unpaired
)

var stateNames = [...]string{
	Idle:         "idle",
	Discovering:  "discovering",
	Establishing: "establishing",
	Subscribing:  "subscribing",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Abandoned:    "abandoned",
	Unpaired:     "unpaired",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether the session holds a device or has work in flight.
// Idle, Abandoned and Unpaired are all equivalent to a fresh session.
func (s State) Active() bool {
	switch s {
	case Idle, Abandoned, Unpaired:
		return false
	default:
		return true
	}
}
