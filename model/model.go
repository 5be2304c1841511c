package model

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/callmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the remote
// service.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized input of one streaming completion call.
type Request struct {
	// Prompt is the user text of the sub-request.
	Prompt string `json:"prompt"`
	// Instructions is the optional system prompt / context blob assembled
	// by the caller.
	Instructions string `json:"instructions,omitempty"`
	// Tools lists the callable functions exposed for this request.
	Tools []ToolDefinition `json:"tools,omitempty"`
}

// Info contains metadata about a streamer implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Streamer is the minimal interface required to drive one streaming
// completion call. Implementations send ordered events on the first channel
// and at most one terminal error on the second, then close both. Transient
// network failures surface on the error channel; classification and retry
// are the caller's concern.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan core.StreamEvent, <-chan error)

	// Info returns information about the streamer implementation.
	Info() Info
}

// script is one canned MockStreamer behavior for a prompt.
type script struct {
	events   []core.StreamEvent
	err      error
	failures int // times to fail with err before succeeding
	delay    time.Duration
}

// MockStreamer is a lightweight in-memory Streamer useful for tests and
// examples. Responses are scripted per prompt; unscripted prompts echo a
// deterministic content event followed by a finished event. Failure
// injection supports retry testing: a script with failures > 0 fails that
// many Stream calls before playing its events.
type MockStreamer struct {
	info    Info
	scripts map[string]*script
}

// NewMockStreamer constructs a MockStreamer with tool support enabled.
func NewMockStreamer() *MockStreamer {
	return &MockStreamer{
		info:    Info{Name: "mock", Provider: "mock", SupportsTools: true},
		scripts: make(map[string]*script),
	}
}

// AddResponse registers a canned event sequence for a prompt. A terminal
// finished event is appended when the sequence does not end the stream
// itself.
func (m *MockStreamer) AddResponse(prompt string, events ...core.StreamEvent) {
	if len(events) == 0 || !events[len(events)-1].IsTerminal() {
		events = append(events, core.NewFinishedEvent("stop"))
	}
	m.scripts[prompt] = &script{events: events}
}

// AddFailure registers an error for a prompt. The first failures Stream
// calls fail with err; subsequent calls play the previously registered
// events (or the default echo).
func (m *MockStreamer) AddFailure(prompt string, err error, failures int) {
	s, ok := m.scripts[prompt]
	if !ok {
		s = &script{}
		m.scripts[prompt] = s
	}
	s.err = err
	s.failures = failures
}

// AddDelay inserts a pause before each event of a prompt's script, useful
// for interleaving and cancellation tests.
func (m *MockStreamer) AddDelay(prompt string, delay time.Duration) {
	s, ok := m.scripts[prompt]
	if !ok {
		s = &script{}
		m.scripts[prompt] = s
	}
	s.delay = delay
}

// Stream implements Streamer.
func (m *MockStreamer) Stream(ctx context.Context, req Request) (<-chan core.StreamEvent, <-chan error) {
	out := make(chan core.StreamEvent, 16)
	errCh := make(chan error, 1)

	s := m.scripts[req.Prompt]

	go func() {
		defer close(out)
		defer close(errCh)

		if s != nil && s.failures > 0 {
			s.failures--
			errCh <- s.err
			return
		}

		events := []core.StreamEvent{
			core.NewContentEvent(fmt.Sprintf("Mock response to: %s", req.Prompt)),
			core.NewFinishedEvent("stop"),
		}
		delay := time.Duration(0)
		if s != nil {
			if len(s.events) > 0 {
				events = s.events
			}
			delay = s.delay
		}

		for _, ev := range events {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}

// Info implements Streamer.
func (m *MockStreamer) Info() Info { return m.info }
