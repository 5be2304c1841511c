// Package telemetry defines the hook points the engine exposes as plain
// structured callbacks. The engine calls the hook unconditionally; the
// default implementation is a no-op, so exporting (or ignoring) these
// events is entirely the embedder's decision.
package telemetry

import (
	"time"

	"github.com/hupe1980/callmesh/logging"
)

// Hook receives engine lifecycle notifications. Implementations must be
// safe for concurrent use and should return quickly: several hook points
// are invoked on hot paths, some while internal locks are held.
type Hook interface {
	// CallsDetected fires once per orchestration after parsing, with the
	// number of concurrent calls found (0 for sequential input).
	CallsDetected(n int)

	// UnitStarted fires when an execution unit begins streaming.
	UnitStarted(callID string)
	// UnitCompleted fires when a unit reaches the Completed state.
	UnitCompleted(callID string)
	// UnitFailed fires when a unit reaches the Failed state.
	UnitFailed(callID string, err error)
	// UnitRetried fires before each retry backoff sleep.
	UnitRetried(callID string, attempt int, delay time.Duration)

	// LockAcquired / LockReleased fire on lock grant and release.
	LockAcquired(path, callID string)
	LockReleased(path, callID string)
}

// NoOpHook discards all notifications. It is the default for every
// component that accepts a Hook.
type NoOpHook struct{}

// CallsDetected implements Hook.
func (NoOpHook) CallsDetected(int) {}

// UnitStarted implements Hook.
func (NoOpHook) UnitStarted(string) {}

// UnitCompleted implements Hook.
func (NoOpHook) UnitCompleted(string) {}

// UnitFailed implements Hook.
func (NoOpHook) UnitFailed(string, error) {}

// UnitRetried implements Hook.
func (NoOpHook) UnitRetried(string, int, time.Duration) {}

// LockAcquired implements Hook.
func (NoOpHook) LockAcquired(string, string) {}

// LockReleased implements Hook.
func (NoOpHook) LockReleased(string, string) {}

// LoggingHook forwards every notification to a logging.Logger at debug
// level. Useful during development and as a reference implementation.
type LoggingHook struct {
	Logger logging.Logger
}

// NewLoggingHook wraps a logger; a nil logger degrades to no-op output.
func NewLoggingHook(l logging.Logger) *LoggingHook {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &LoggingHook{Logger: l}
}

// CallsDetected implements Hook.
func (h *LoggingHook) CallsDetected(n int) {
	h.Logger.Debug("telemetry.calls_detected", "count", n)
}

// UnitStarted implements Hook.
func (h *LoggingHook) UnitStarted(callID string) {
	h.Logger.Debug("telemetry.unit_started", "call_id", callID)
}

// UnitCompleted implements Hook.
func (h *LoggingHook) UnitCompleted(callID string) {
	h.Logger.Debug("telemetry.unit_completed", "call_id", callID)
}

// UnitFailed implements Hook.
func (h *LoggingHook) UnitFailed(callID string, err error) {
	h.Logger.Debug("telemetry.unit_failed", "call_id", callID, "error", err)
}

// UnitRetried implements Hook.
func (h *LoggingHook) UnitRetried(callID string, attempt int, delay time.Duration) {
	h.Logger.Debug("telemetry.unit_retried", "call_id", callID, "attempt", attempt, "delay", delay)
}

// LockAcquired implements Hook.
func (h *LoggingHook) LockAcquired(path, callID string) {
	h.Logger.Debug("telemetry.lock_acquired", "path", path, "call_id", callID)
}

// LockReleased implements Hook.
func (h *LoggingHook) LockReleased(path, callID string) {
	h.Logger.Debug("telemetry.lock_released", "path", path, "call_id", callID)
}
