package core

import "time"

// EventKind discriminates the variants of a StreamEvent.
type EventKind string

const (
	// EventContent carries a chunk of assistant text.
	EventContent EventKind = "content"
	// EventToolCall is a request by the remote service to execute a tool.
	EventToolCall EventKind = "tool_call"
	// EventToolResult reports the outcome of a previously requested tool call.
	EventToolResult EventKind = "tool_result"
	// EventError reports a fatal failure of the originating execution unit.
	EventError EventKind = "error"
	// EventFinished marks the normal end of an execution unit's stream.
	EventFinished EventKind = "finished"
)

// ToolCall describes a function invocation requested by the remote service.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Args is the raw JSON argument string as produced by the service.
	Args string `json:"args"`
}

// ToolResult captures the outcome of a ToolCall. Error is the empty string
// on success.
type ToolResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StreamEvent is one element of an execution unit's ordered output stream.
// It is a tagged union: Kind selects which of the variant fields is
// populated. Events are immutable once yielded.
type StreamEvent struct {
	Kind EventKind `json:"kind"`

	// EventContent
	Text string `json:"text,omitempty"`

	// EventToolCall / EventToolResult
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// EventError
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorStatus  string `json:"error_status,omitempty"`

	// EventFinished
	FinishReason string `json:"finish_reason,omitempty"`
}

// NewContentEvent creates a content event carrying a chunk of text.
func NewContentEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventContent, Text: text}
}

// NewToolCallEvent creates a tool call request event.
func NewToolCallEvent(id, name, args string) StreamEvent {
	return StreamEvent{Kind: EventToolCall, ToolCall: &ToolCall{ID: id, Name: name, Args: args}}
}

// NewToolResultEvent records the completion result (or error) of a tool call.
// If err is non-nil its message is copied into the result's Error field.
func NewToolResultEvent(id, name string, result any, err error) StreamEvent {
	tr := ToolResult{ID: id, Name: name, Result: result}
	if err != nil {
		tr.Error = err.Error()
	}
	return StreamEvent{Kind: EventToolResult, ToolResult: &tr}
}

// NewErrorEvent creates a fatal error event. Status categorizes the failure
// (e.g. "retry_exhausted", "rejected") for callers that branch on it.
func NewErrorEvent(message, status string) StreamEvent {
	return StreamEvent{Kind: EventError, ErrorMessage: message, ErrorStatus: status}
}

// NewFinishedEvent marks the normal end of a stream with the service's
// finish reason ("stop", "length", "tool_calls", ...).
func NewFinishedEvent(reason string) StreamEvent {
	return StreamEvent{Kind: EventFinished, FinishReason: reason}
}

// IsTerminal reports whether this event ends its unit's stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventError || e.Kind == EventFinished
}

// AttributedEvent is a StreamEvent tagged with its originating call. It is
// the only type an orchestration caller ever observes and is constructed
// exactly once, when the multiplexer re-yields an underlying event.
//
// In sequential (single-call) mode CallID and CallTitle are empty: the
// stream has exactly one origin and tagging would be overhead.
type AttributedEvent struct {
	StreamEvent

	CallID    string    `json:"call_id,omitempty"`
	CallTitle string    `json:"call_title,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAttributedEvent stamps a stream event with its originating call and the
// current UTC time.
func NewAttributedEvent(ev StreamEvent, call Call) AttributedEvent {
	return AttributedEvent{
		StreamEvent: ev,
		CallID:      call.ID,
		CallTitle:   call.Title(),
		Timestamp:   time.Now().UTC(),
	}
}

// NewPassthroughEvent wraps a stream event without call attribution, used on
// the sequential fast path.
func NewPassthroughEvent(ev StreamEvent) AttributedEvent {
	return AttributedEvent{StreamEvent: ev, Timestamp: time.Now().UTC()}
}
