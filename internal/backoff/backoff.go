// Package backoff computes retry delays for link establishment.
//
// The policy is a plain doubling schedule: base, 2*base, 4*base, ...
// State carries the attempt counter so callers can publish it and tests can
// drive it without a real clock.
package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultBaseDelay is the wait before the first retry
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxAttempts is the number of retries after the initial attempt
	DefaultMaxAttempts uint = 3

	maxDelay = time.Duration(math.MaxInt64)
)

// NextDelay returns base * 2^attempt, attempt starting at 0
func NextDelay(attempt uint, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt >= 63 || base > maxDelay>>attempt {
		return maxDelay
	}
	return base << attempt
}

// State tracks retry progress for one establish run
type State struct {
	Attempt     uint
	Delay       time.Duration
	MaxAttempts uint
	base        time.Duration
}

// NewState returns a State at attempt 0
func NewState(base time.Duration, maxAttempts uint) State {
	return State{
		Delay:       NextDelay(0, base),
		MaxAttempts: maxAttempts,
		base:        base,
	}
}

// Exhausted reports whether the retry budget is used up
func (s State) Exhausted() bool {
	return s.Attempt >= s.MaxAttempts
}

// Remaining returns how many retries are left
func (s State) Remaining() uint {
	if s.Exhausted() {
		return 0
	}
	return s.MaxAttempts - s.Attempt
}

// Advance records the delay to wait before the next attempt and moves to it.
// Delay holds the returned wait until the following Advance or Reset.
func (s *State) Advance() time.Duration {
	s.Delay = NextDelay(s.Attempt, s.base)
	s.Attempt++
	return s.Delay
}

// Reset puts the state back to attempt 0
func (s *State) Reset() {
	s.Attempt = 0
	s.Delay = NextDelay(0, s.base)
}

func (s State) String() string {
	return fmt.Sprintf("attempt %d/%d (delay %s)", s.Attempt, s.MaxAttempts, s.Delay)
}

// Sleeper waits for a duration or until ctx is done
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// ClockSleeper waits on the real clock
type ClockSleeper struct{}

// Sleep blocks for d. It returns ctx.Err() if ctx is cancelled first.
func (ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
