package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition every millisecond until it holds or timeout passes.
// It reports whether the condition was met.
func WaitFor(tb testing.TB, condition func() bool, timeout time.Duration) bool {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return condition()
}

// MustWaitForCalls fails the test unless d has started at least n calls
// within timeout.
func MustWaitForCalls(tb testing.TB, d *FakeDelegate, n int64, timeout time.Duration) {
	tb.Helper()
	if !WaitFor(tb, func() bool { return d.Calls.Load() >= n }, timeout) {
		tb.Fatalf("timed out waiting for %d delegate calls (current: %d)", n, d.Calls.Load())
	}
}
