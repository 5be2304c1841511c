// Package callmesh provides a high-level façade over the orchestration
// engine that fans a single user request out into several independent
// streaming completion calls and merges their output into one attributed
// stream. Most applications interact with this package by:
//  1. Creating a CallMesh via New() around a model.Streamer
//  2. Optionally registering tools and tuning the engine config
//  3. Orchestrating raw input asynchronously (Orchestrate) or
//     synchronously (OrchestrateSync)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a real
// provider adapter (model/anthropic, model/openai) and a structured logger.
package callmesh

import (
	"context"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/engine"
	"github.com/hupe1980/callmesh/history"
	"github.com/hupe1980/callmesh/logging"
	"github.com/hupe1980/callmesh/model"
	"github.com/hupe1980/callmesh/parser"
	"github.com/hupe1980/callmesh/telemetry"
	"github.com/hupe1980/callmesh/tool"
)

// Options configures the CallMesh instance.
type Options struct {
	// EngineConfig tunes concurrency, retry, locking and buffering.
	EngineConfig engine.Config

	// Tools are registered with the built-in registry and exposed to
	// every call.
	Tools []tool.Tool

	// Instructions is an optional system prompt passed to every call.
	Instructions string

	// Telemetry receives engine hook events (defaults to no-op).
	Telemetry telemetry.Hook

	// History, when set, records every orchestration run's transcript.
	// Nil disables recording.
	History history.Store

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// CallMesh is the high-level façade aggregating the engine, the tool
// registry and optional run recording.
type CallMesh struct {
	engine   *engine.Engine
	registry *tool.Registry
	history  history.Store
	logger   logging.Logger
}

// New creates a new CallMesh around a streamer with optional overrides.
func New(streamer model.Streamer, optFns ...func(o *Options)) *CallMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Telemetry:    telemetry.NoOpHook{},
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := tool.NewRegistry(opts.Tools...)

	e := engine.New(streamer, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Executor = registry
		o.Instructions = opts.Instructions
		o.Telemetry = opts.Telemetry
		o.Logger = opts.Logger
	})

	return &CallMesh{
		engine:   e,
		registry: registry,
		history:  opts.History,
		logger:   opts.Logger,
	}
}

// RegisterTools adds tools to the registry after construction.
func (cm *CallMesh) RegisterTools(tools ...tool.Tool) {
	cm.registry.Register(tools...)
}

// Engine exposes the underlying orchestration engine.
func (cm *CallMesh) Engine() *engine.Engine { return cm.engine }

// History exposes the configured run store, or nil when recording is
// disabled.
func (cm *CallMesh) History() history.Store { return cm.history }

// Orchestrate processes rawInput and streams attributed events until every
// execution unit terminates or ctx is cancelled. With a history store
// configured, the full transcript is recorded as it streams.
func (cm *CallMesh) Orchestrate(ctx context.Context, rawInput string) <-chan core.AttributedEvent {
	src := cm.engine.Orchestrate(ctx, rawInput)
	if cm.history == nil {
		return src
	}
	return cm.record(rawInput, src)
}

// record tees the event stream into the history store. Store failures are
// logged, never propagated: recording must not disturb the run itself.
func (cm *CallMesh) record(rawInput string, src <-chan core.AttributedEvent) <-chan core.AttributedEvent {
	runID, err := cm.history.Begin(rawInput, parser.Parse(rawInput).Calls)
	if err != nil {
		cm.logger.Warn("callmesh.history.begin_failed", "error", err.Error())
		return src
	}

	out := make(chan core.AttributedEvent)
	go func() {
		defer close(out)
		for ev := range src {
			if err := cm.history.Append(runID, ev); err != nil {
				cm.logger.Warn("callmesh.history.append_failed", "run_id", runID, "error", err.Error())
			}
			out <- ev
		}
		if err := cm.history.Complete(runID); err != nil {
			cm.logger.Warn("callmesh.history.complete_failed", "run_id", runID, "error", err.Error())
		}
	}()
	return out
}

// OrchestrateSync processes rawInput and returns the collected event
// stream. It blocks until all execution units terminate or ctx is
// cancelled; collected events are returned either way.
func (cm *CallMesh) OrchestrateSync(ctx context.Context, rawInput string) ([]core.AttributedEvent, error) {
	var events []core.AttributedEvent
	for ev := range cm.Orchestrate(ctx, rawInput) {
		events = append(events, ev)
	}
	if err := ctx.Err(); err != nil {
		return events, err
	}
	return events, nil
}
