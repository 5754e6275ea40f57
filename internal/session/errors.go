package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnpaired is returned to a pending Pair when the pairing is
	// superseded or explicitly unpaired
	ErrUnpaired = errors.New("session unpaired")

	// ErrClosed is returned once the session has been closed
	ErrClosed = errors.New("session closed")

	// ErrPairingCancelled is returned when the Pair context ends before
	// the session reaches Connected
	ErrPairingCancelled = errors.New("pairing cancelled")

	// ErrRejected wraps the error of a Pair request the session never
	// started; no event is emitted for it
	ErrRejected = errors.New("pair request rejected")
)

// Error is a failure surfaced by a session. It names the role and the step
// that failed; Err carries the underlying cause.
type Error struct {
	Role string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Role, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
