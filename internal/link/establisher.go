package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bfree-trainer/bfree/internal/backoff"
	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/sirupsen/logrus"
)

// FailureKind classifies why Establish gave up
type FailureKind string

const (
	Exhausted FailureKind = "exhausted"
)

// ConnectError is returned once the retry budget is spent.
// It is never retried automatically.
type ConnectError struct {
	Kind     FailureKind
	Attempts uint // total open attempts, including the first
	Cause    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// Is matches any ConnectError of the same Kind
func (e *ConnectError) Is(target error) bool {
	t, ok := target.(*ConnectError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ErrExhausted matches every budget-exhausted ConnectError via errors.Is
var ErrExhausted = &ConnectError{Kind: Exhausted}

// RetryObserver is told about every failed attempt that will be retried,
// after the state has advanced and before the wait starts.
type RetryObserver func(state backoff.State, cause error)

// Establisher opens channels with bounded exponential backoff
type Establisher struct {
	opener  device.Opener
	sleeper backoff.Sleeper
	logger  *logrus.Logger
}

// NewEstablisher creates an Establisher. A nil sleeper waits on the real clock.
func NewEstablisher(opener device.Opener, sleeper backoff.Sleeper, logger *logrus.Logger) *Establisher {
	if sleeper == nil {
		sleeper = backoff.ClockSleeper{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Establisher{
		opener:  opener,
		sleeper: sleeper,
		logger:  logger,
	}
}

// Establish opens a channel to handle. The first attempt is followed by at most
// maxAttempts retries, waiting base*2^n before retry n. Cancelling ctx aborts a
// pending wait or open; a channel that opens after cancellation is closed.
func (e *Establisher) Establish(ctx context.Context, handle *device.Handle, base time.Duration, maxAttempts uint, onRetry RetryObserver) (device.Channel, error) {
	if handle == nil {
		return nil, fmt.Errorf("establish: %w", device.ErrNotInitialized)
	}

	state := backoff.NewState(base, maxAttempts)
	log := e.logger.WithFields(logrus.Fields{
		"device":  handle.DisplayName(),
		"address": handle.Address,
	})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.WithField("attempt", state.Attempt).Debug("Opening channel...")
		ch, err := e.opener.Open(ctx, handle)
		if err == nil {
			if ctx.Err() != nil {
				// Lost the race with cancellation; do not leak the link
				if cerr := ch.Close(); cerr != nil {
					log.WithField("error", cerr).Warn("Failed to close channel opened after cancellation")
				}
				return nil, ctx.Err()
			}
			log.WithField("attempts", state.Attempt+1).Info("Channel established")
			return ch, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		err = device.NormalizeError(err)
		if state.Exhausted() {
			log.WithFields(logrus.Fields{
				"attempts": state.Attempt + 1,
				"error":    err,
			}).Warn("Giving up on channel")
			return nil, &ConnectError{Kind: Exhausted, Attempts: state.Attempt + 1, Cause: err}
		}

		delay := state.Advance()
		log.WithFields(logrus.Fields{
			"error":      err,
			"delay":      delay,
			"tries_left": state.Remaining() + 1,
		}).Warn("Open failed, retrying")

		if onRetry != nil {
			onRetry(state, err)
		}

		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("backoff wait: %w", err)
		}
	}
}
