// Package turn implements the execution unit that drives a single call to
// completion against the remote streaming completion service. A Turn owns
// the per-call lifecycle: opening the stream (with retry on transient
// failures), forwarding events in order, serializing filesystem-mutating
// tool calls through the lock manager, and reaching exactly one terminal
// state.
package turn

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/lock"
	"github.com/hupe1980/callmesh/logging"
	"github.com/hupe1980/callmesh/model"
	"github.com/hupe1980/callmesh/retry"
	"github.com/hupe1980/callmesh/telemetry"
)

// State is the lifecycle phase of a Turn.
type State string

const (
	// StateIdle is the phase before Run is called.
	StateIdle State = "idle"
	// StateStreaming is the phase while events are being produced.
	StateStreaming State = "streaming"
	// StateCompleted is the terminal phase after a normal finish.
	StateCompleted State = "completed"
	// StateFailed is the terminal phase after an unrecoverable error.
	StateFailed State = "failed"
	// StateCancelled is the terminal phase after context cancellation.
	StateCancelled State = "cancelled"
)

// Executor is the tool execution collaborator contract consumed by a Turn.
// tool.Registry is the canonical implementation.
type Executor interface {
	// Execute runs the requested tool; failures are embedded in the result.
	Execute(ctx context.Context, call core.ToolCall) core.ToolResult
	// MutatedPath reports the file path the call would mutate, if any.
	MutatedPath(call core.ToolCall) (string, bool)
	// Definitions exposes the registered tools for the stream request.
	Definitions() []model.ToolDefinition
}

// Options configures a Turn.
type Options struct {
	// Executor fulfills tool call requests. Nil disables tool execution:
	// tool call events are forwarded but produce an error result.
	Executor Executor
	// Locks serializes filesystem-mutating tool calls across units.
	Locks *lock.Manager
	// LockTimeout bounds each lock acquisition.
	LockTimeout time.Duration
	// Retry classifies and retries transient stream failures. Nil means a
	// single attempt.
	Retry *retry.Policy
	// Instructions is the optional system prompt forwarded verbatim.
	Instructions string
	// EventBufferSize sets the output channel buffer.
	EventBufferSize int
	// Telemetry receives unit lifecycle hook events.
	Telemetry telemetry.Hook
	// Logger receives structured diagnostics.
	Logger logging.Logger
}

// Turn runs one call end-to-end. It is single-use: restart by constructing
// a new Turn. Public methods are safe for concurrent use.
type Turn struct {
	call     core.Call
	streamer model.Streamer

	executor     Executor
	locks        *lock.Manager
	lockTimeout  time.Duration
	retryPolicy  *retry.Policy
	instructions string
	bufferSize   int
	telemetry    telemetry.Hook
	logger       logging.Logger

	state   atomic.Value // State
	started atomic.Bool
	err     atomic.Value // error (terminal failure)
}

// New constructs an idle Turn for the given call.
func New(call core.Call, streamer model.Streamer, optFns ...func(o *Options)) *Turn {
	opts := Options{
		LockTimeout:     10 * time.Second,
		EventBufferSize: 32,
		Telemetry:       telemetry.NoOpHook{},
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &Turn{
		call:         call,
		streamer:     streamer,
		executor:     opts.Executor,
		locks:        opts.Locks,
		lockTimeout:  opts.LockTimeout,
		retryPolicy:  opts.Retry,
		instructions: opts.Instructions,
		bufferSize:   opts.EventBufferSize,
		telemetry:    opts.Telemetry,
		logger:       opts.Logger,
	}
	t.state.Store(StateIdle)
	return t
}

// Call returns the call this turn executes.
func (t *Turn) Call() core.Call { return t.call }

// State returns the current lifecycle phase.
func (t *Turn) State() State { return t.state.Load().(State) }

// Err returns the terminal failure after the turn reached StateFailed.
func (t *Turn) Err() error {
	if err, ok := t.err.Load().(error); ok {
		return err
	}
	return nil
}

// Run starts the turn and returns its ordered event stream. The channel is
// closed once the turn reaches a terminal state. A second Run returns an
// immediately closed channel: a Turn is not restartable.
func (t *Turn) Run(ctx context.Context) <-chan core.StreamEvent {
	out := make(chan core.StreamEvent, t.bufferSize)
	if !t.started.CompareAndSwap(false, true) {
		close(out)
		return out
	}

	t.state.Store(StateStreaming)
	t.telemetry.UnitStarted(t.call.ID)
	t.logger.Debug("turn.run.start", "call_id", t.call.ID)

	go func() {
		defer close(out)
		// Terminal cleanup: no lock held by this call may outlive the turn.
		defer func() {
			if t.locks != nil {
				t.locks.ReleaseAll(t.call.ID)
			}
		}()

		err := t.stream(ctx, out)
		switch {
		case err == nil:
			t.state.Store(StateCompleted)
			t.telemetry.UnitCompleted(t.call.ID)
			t.logger.Debug("turn.run.completed", "call_id", t.call.ID)
		case ctx.Err() != nil:
			// Cancellation is a normal terminal state, not an error.
			t.state.Store(StateCancelled)
			t.logger.Debug("turn.run.cancelled", "call_id", t.call.ID)
		default:
			t.err.Store(err)
			t.state.Store(StateFailed)
			t.telemetry.UnitFailed(t.call.ID, err)
			t.logger.Warn("turn.run.failed", "call_id", t.call.ID, "error", err.Error())
			t.emit(ctx, out, core.NewErrorEvent(err.Error(), "unit_failed"))
		}
	}()

	return out
}

// stream drives the underlying call, delegating transient failures to the
// retry policy. A failure that surfaces after events were already forwarded
// is fatal rather than retried, so callers never observe duplicated output.
func (t *Turn) stream(ctx context.Context, out chan<- core.StreamEvent) error {
	var fatal error
	attempt := func(ctx context.Context) error {
		emitted, err := t.streamOnce(ctx, out)
		if err != nil && emitted > 0 && ctx.Err() == nil {
			fatal = err
			return nil
		}
		return err
	}

	var err error
	if t.retryPolicy != nil {
		err = t.retryPolicy.Do(ctx, t.call.ID, attempt)
	} else {
		err = attempt(ctx)
	}
	if err == nil {
		err = fatal
	}
	return err
}

// streamOnce performs one attempt of the underlying call and reports how
// many events it forwarded.
func (t *Turn) streamOnce(ctx context.Context, out chan<- core.StreamEvent) (int, error) {
	req := model.Request{Prompt: t.call.Prompt, Instructions: t.instructions}
	if t.executor != nil {
		req.Tools = t.executor.Definitions()
	}

	start := time.Now()
	events, errCh := t.streamer.Stream(ctx, req)

	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return emitted, ctx.Err()

		case err, ok := <-errCh:
			if ok && err != nil {
				t.logger.Debug("turn.stream.error", "call_id", t.call.ID, "error", err.Error(), "duration", time.Since(start))
				return emitted, err
			}
			// Error channel closed without error; keep draining events.
			errCh = nil

		case ev, ok := <-events:
			if !ok {
				// Stream finished; surface a trailing error if one is
				// buffered.
				if errCh != nil {
					select {
					case err, ok := <-errCh:
						if ok && err != nil {
							return emitted, err
						}
					default:
					}
				}
				t.logger.Debug("turn.stream.done", "call_id", t.call.ID, "events", emitted, "duration", time.Since(start))
				return emitted, nil
			}

			if err := t.handleEvent(ctx, out, ev); err != nil {
				return emitted, err
			}
			emitted++
			if ev.Kind == core.EventToolCall {
				emitted++ // the matching result event
			}
		}
	}
}

// handleEvent forwards one stream event and, for tool call requests,
// executes the tool and emits the matching result event. A mutating tool
// call holds the path lock for the duration of execution; the lock is
// released before the result event is emitted.
func (t *Turn) handleEvent(ctx context.Context, out chan<- core.StreamEvent, ev core.StreamEvent) error {
	if err := t.emit(ctx, out, ev); err != nil {
		return err
	}
	if ev.Kind != core.EventToolCall {
		return nil
	}

	result := t.executeToolCall(ctx, *ev.ToolCall)
	return t.emit(ctx, out, core.StreamEvent{Kind: core.EventToolResult, ToolResult: &result})
}

// executeToolCall dispatches a tool call through the executor, serializing
// filesystem mutations via the lock manager. A lock timeout fails only this
// tool call; the turn continues.
func (t *Turn) executeToolCall(ctx context.Context, call core.ToolCall) core.ToolResult {
	if t.executor == nil {
		return core.ToolResult{ID: call.ID, Name: call.Name, Error: "no tool executor configured"}
	}

	start := time.Now()
	if path, ok := t.executor.MutatedPath(call); ok && t.locks != nil {
		fl, err := t.locks.Acquire(ctx, path, t.call.ID, t.lockTimeout)
		if err != nil {
			t.logger.Warn("turn.tool.lock_failed", "call_id", t.call.ID, "tool", call.Name, "path", path, "error", err.Error())
			return core.ToolResult{ID: call.ID, Name: call.Name, Error: err.Error()}
		}
		defer t.locks.Release(fl.LockID)
	}

	result := t.executor.Execute(ctx, call)
	t.logger.Debug("turn.tool.executed", "call_id", t.call.ID, "tool", call.Name, "duration", time.Since(start), "error", result.Error)
	return result
}

// emit sends one event respecting cancellation.
func (t *Turn) emit(ctx context.Context, out chan<- core.StreamEvent, ev core.StreamEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
