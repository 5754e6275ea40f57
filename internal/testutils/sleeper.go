package testutils

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ManualSleeper is a backoff.Sleeper that never waits on the real clock.
// By default every Sleep returns at once; with Hold(true) each Sleep blocks
// until Release or until its context is cancelled.
type ManualSleeper struct {
	mu      sync.Mutex
	delays  []time.Duration
	hold    bool
	calls   chan time.Duration
	release chan struct{}
}

// NewManualSleeper creates a sleeper in pass-through mode
func NewManualSleeper() *ManualSleeper {
	return &ManualSleeper{
		calls:   make(chan time.Duration, 64),
		release: make(chan struct{}, 64),
	}
}

// Hold switches between blocking and pass-through mode
func (s *ManualSleeper) Hold(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = hold
}

// Sleep records d and waits according to the current mode
func (s *ManualSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hold := s.hold
	s.mu.Unlock()

	select {
	case s.calls <- d:
	default:
	}

	if !hold {
		return ctx.Err()
	}

	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release lets one held Sleep return
func (s *ManualSleeper) Release() {
	s.release <- struct{}{}
}

// Delays returns every requested delay in call order
func (s *ManualSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// WaitForSleep blocks until the next Sleep call and returns its delay
func (s *ManualSleeper) WaitForSleep(t *testing.T, timeout time.Duration) time.Duration {
	t.Helper()
	select {
	case d := <-s.calls:
		return d
	case <-time.After(timeout):
		t.Fatalf("no backoff wait within %s", timeout)
		return 0
	}
}
