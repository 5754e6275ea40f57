package testutils

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every wait in tests
const DefaultTimeout = 2 * time.Second

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Receive waits for one value from ch or fails the test
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for a value")
		}
		return v
	case <-time.After(timeout):
		var zero T
		t.Fatalf("no value received within %s", timeout)
		return zero
	}
}

// WaitClosed waits for ch to be closed or fails the test
func WaitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("channel not closed within %s", timeout)
	}
}

// ReceiveUntil drains ch until match returns true and returns the matching
// value; every value seen on the way is returned as well.
func ReceiveUntil[T any](t *testing.T, ch <-chan T, timeout time.Duration, match func(T) bool) (T, []T) {
	t.Helper()
	deadline := time.After(timeout)
	var seen []T
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatal("channel closed while waiting for a matching value")
			}
			seen = append(seen, v)
			if match(v) {
				return v, seen
			}
		case <-deadline:
			var zero T
			t.Fatalf("no matching value within %s (saw %d values)", timeout, len(seen))
			return zero, seen
		}
	}
}
