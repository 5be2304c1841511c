// Package history records orchestration runs: the raw input, the calls it
// parsed into and the full attributed event stream, in arrival order. The
// Store interface lives here alongside the in-memory implementation; add
// durable backends (Redis, Postgres, object storage) in sub-packages without
// changing any calling code.
package history

import (
	"time"

	"github.com/hupe1980/callmesh/core"
)

// Record is the transcript of one orchestration run.
type Record struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`
	// Input is the raw user input as submitted.
	Input string `json:"input"`
	// Calls lists the sub-requests the input was parsed into. Empty for
	// sequential runs.
	Calls []core.Call `json:"calls,omitempty"`
	// Events is the merged attributed event stream in arrival order.
	Events []core.AttributedEvent `json:"events"`
	// StartedAt is the run's begin time (UTC).
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is zero while the run is still streaming.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the run's event stream has closed.
func (r *Record) Completed() bool { return !r.CompletedAt.IsZero() }

// Clone returns a deep copy so callers can never mutate stored state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Calls = append([]core.Call(nil), r.Calls...)
	cp.Events = append([]core.AttributedEvent(nil), r.Events...)
	return &cp
}

// Store persists orchestration run transcripts. Implementations must be
// safe for concurrent use: a run appends events while observers read.
type Store interface {
	// Begin opens a new record for a run and returns its id.
	Begin(input string, calls []core.Call) (string, error)

	// Append adds one event to a run's transcript.
	Append(runID string, ev core.AttributedEvent) error

	// Complete marks a run's stream as closed.
	Complete(runID string) error

	// Get returns a clone of the record, or ErrNotFound.
	Get(runID string) (*Record, error)

	// List returns the ids of all recorded runs in begin order.
	List() ([]string, error)
}
