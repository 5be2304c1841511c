package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/lock"
	"github.com/hupe1980/callmesh/logging"
	"github.com/hupe1980/callmesh/model"
	"github.com/hupe1980/callmesh/mux"
	"github.com/hupe1980/callmesh/parser"
	"github.com/hupe1980/callmesh/retry"
	"github.com/hupe1980/callmesh/telemetry"
	"github.com/hupe1980/callmesh/turn"
)

// ForcedMode overrides the routing decision normally made by the parser.
type ForcedMode string

const (
	// ForcedNone routes by parse result (the default).
	ForcedNone ForcedMode = ""
	// ForcedSequential processes every input as a single call, ignoring
	// concurrent-call syntax.
	ForcedSequential ForcedMode = "sequential"
	// ForcedConcurrent uses the concurrent path (with event attribution)
	// whenever call syntax is present, even for a single call.
	ForcedConcurrent ForcedMode = "concurrent"
)

// Config defines tuning parameters for the engine's behavior.
type Config struct {
	// ConcurrencyEnabled gates the concurrent path entirely. When false
	// every input is processed as a single call.
	ConcurrencyEnabled bool

	// MaxConcurrentCalls clamps the number of calls executed in parallel.
	// Excess calls are rejected up front with one error event each, never
	// silently dropped.
	MaxConcurrentCalls int

	// ForcedMode overrides routing; see the ForcedMode constants.
	ForcedMode ForcedMode

	// Retry configures transient-failure handling for the underlying
	// streaming calls.
	Retry retry.Config

	// LockTimeout bounds each advisory lock acquisition made by a tool
	// call.
	LockTimeout time.Duration

	// EventBufferSize sets channel buffering for event delivery.
	EventBufferSize int
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	ConcurrencyEnabled: true,
	MaxConcurrentCalls: 3,
	Retry:              retry.DefaultConfig,
	LockTimeout:        10 * time.Second,
	EventBufferSize:    100,
}

// Options configures an Engine instance using the functional options
// pattern.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Executor fulfills tool call requests. Nil disables tool execution.
	Executor turn.Executor

	// Instructions is an optional system prompt passed to every call.
	Instructions string

	// Telemetry receives the engine's hook events. Defaults to the no-op
	// hook; the engine calls it unconditionally.
	Telemetry telemetry.Hook

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Engine is the orchestration entry point: it parses raw input into calls,
// decides sequential-vs-concurrent routing, runs one execution unit per
// call under the concurrency cap and merges the unit streams into a single
// attributed output stream.
//
// All mutable cross-call state (locks, retry bookkeeping) is owned by the
// instance and dies with it; nothing is shared across Engine instances.
type Engine struct {
	streamer     model.Streamer
	executor     turn.Executor
	instructions string
	config       Config

	locks       *lock.Manager
	retryPolicy *retry.Policy
	telemetry   telemetry.Hook
	logger      logging.Logger
}

// New creates an Engine around a streamer with optional overrides.
func New(streamer model.Streamer, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig,
		Telemetry: telemetry.NoOpHook{},
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		streamer:     streamer,
		executor:     opts.Executor,
		instructions: opts.Instructions,
		config:       opts.Config,
		locks: lock.NewManager(func(o *lock.Options) {
			o.Telemetry = opts.Telemetry
		}),
		retryPolicy: retry.NewPolicy(opts.Config.Retry, func(o *retry.Options) {
			o.Telemetry = opts.Telemetry
		}),
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
}

// Locks exposes the engine-owned lock manager for introspection.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// Orchestrate processes rawInput and returns the single attributed event
// stream all results converge on. The channel closes once every execution
// unit reached a terminal state; cancelling ctx propagates to every unit,
// in-flight lock acquisition and retry sleep. All failure information is
// delivered in-stream, attributed to its originating call.
func (e *Engine) Orchestrate(ctx context.Context, rawInput string) <-chan core.AttributedEvent {
	res := parser.Parse(rawInput)
	e.telemetry.CallsDetected(len(res.Calls))

	concurrent := res.HasConcurrentCalls && e.config.ConcurrencyEnabled
	switch e.config.ForcedMode {
	case ForcedSequential:
		concurrent = false
	case ForcedConcurrent:
		concurrent = res.HasConcurrentCalls
	}

	e.logger.Debug("engine.orchestrate",
		"concurrent", concurrent,
		"calls", len(res.Calls),
		"forced_mode", string(e.config.ForcedMode),
	)

	if !concurrent {
		return e.runSequential(ctx, rawInput)
	}
	return e.runConcurrent(ctx, res.Calls)
}

// OrchestrateSync processes rawInput and collects the complete event
// stream. It blocks until all execution units terminate or ctx is
// cancelled; collected events are returned either way.
func (e *Engine) OrchestrateSync(ctx context.Context, rawInput string) ([]core.AttributedEvent, error) {
	var events []core.AttributedEvent
	for ev := range e.Orchestrate(ctx, rawInput) {
		events = append(events, ev)
	}
	if err := ctx.Err(); err != nil {
		return events, err
	}
	return events, nil
}

// runSequential is the single-call fast path: one execution unit, events
// passed through without call attribution.
func (e *Engine) runSequential(ctx context.Context, prompt string) <-chan core.AttributedEvent {
	call := core.Call{ID: core.NewID(), Prompt: prompt}
	t := e.newTurn(call)

	out := make(chan core.AttributedEvent, e.config.EventBufferSize)
	go func() {
		defer close(out)
		for ev := range t.Run(ctx) {
			select {
			case out <- core.NewPassthroughEvent(ev):
			case <-ctx.Done():
				// Keep draining so the unit can terminate.
			}
		}
	}()
	return out
}

// runConcurrent clamps the call list, starts one execution unit per
// accepted call and merges their streams. Each rejected excess call yields
// exactly one attributed error event.
func (e *Engine) runConcurrent(ctx context.Context, calls []core.Call) <-chan core.AttributedEvent {
	accepted := calls
	var rejected []core.Call
	if max := e.config.MaxConcurrentCalls; max > 0 && len(calls) > max {
		accepted, rejected = calls[:max], calls[max:]
		e.logger.Warn("engine.calls.clamped", "accepted", len(accepted), "rejected", len(rejected), "max", max)
	}

	units := make([]mux.Unit, len(accepted))
	for i, call := range accepted {
		units[i] = e.newTurn(call)
	}

	merged := mux.Merge(ctx, units, func(o *mux.Options) {
		o.BufferSize = e.config.EventBufferSize
		o.Logger = e.logger
	})

	out := make(chan core.AttributedEvent, e.config.EventBufferSize)
	go func() {
		defer close(out)
		for _, call := range rejected {
			msg := fmt.Sprintf("call %s rejected: exceeds maximum of %d concurrent calls", call.ID, e.config.MaxConcurrentCalls)
			select {
			case out <- core.NewAttributedEvent(core.NewErrorEvent(msg, "rejected"), call):
			case <-ctx.Done():
			}
		}
		for ev := range merged {
			select {
			case out <- ev:
			case <-ctx.Done():
				// Keep draining so the merge can terminate.
			}
		}
	}()
	return out
}

// newTurn wires one execution unit with the engine-owned collaborators.
func (e *Engine) newTurn(call core.Call) *turn.Turn {
	return turn.New(call, e.streamer, func(o *turn.Options) {
		o.Executor = e.executor
		o.Locks = e.locks
		o.LockTimeout = e.config.LockTimeout
		o.Retry = e.retryPolicy
		o.Instructions = e.instructions
		o.EventBufferSize = e.config.EventBufferSize
		o.Telemetry = e.telemetry
		o.Logger = e.logger
	})
}
