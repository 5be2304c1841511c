// Package testutil contains helpers used across tests to reduce
// boilerplate when consuming event channels. These helpers are intentionally
// minimal and not intended for production usage.
package testutil

import (
	"testing"
	"time"
)

// Collect drains ch into a slice, failing the test if the channel does not
// close within timeout.
func Collect[T any](t *testing.T, ch <-chan T, timeout time.Duration) []T {
	t.Helper()

	var collected []T
	deadline := time.After(timeout)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return collected
			}
			collected = append(collected, v)
		case <-deadline:
			t.Fatalf("timeout after %v waiting for channel close (collected %d values)", timeout, len(collected))
			return collected
		}
	}
}

// Next reads a single value from ch, failing the test on close or timeout.
func Next[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for a value")
		}
		return v
	case <-time.After(timeout):
		var zero T
		t.Fatalf("timeout after %v waiting for a value", timeout)
		return zero
	}
}
