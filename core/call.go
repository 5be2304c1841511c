package core

import "github.com/google/uuid"

// Call identifies one independent sub-request extracted from raw user input.
// It is immutable after construction and lives for the duration of a single
// orchestration invocation.
type Call struct {
	// ID is the call marker as written by the user, e.g. "call1".
	ID string `json:"id"`
	// Prompt is the trimmed free text belonging to this call.
	Prompt string `json:"prompt"`
}

// Title returns the display label used when attributing stream events to
// this call. Currently the marker itself; kept as a method so display
// formatting can evolve without touching attribution sites.
func (c Call) Title() string { return c.ID }

// NewID generates a new unique identifier used for locks and event
// correlation throughout the engine.
func NewID() string { return uuid.NewString() }
