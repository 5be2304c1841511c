// Package engine implements the top-level orchestrator. It composes the
// leaf subsystems (parser, lock manager, retry policy, execution units and
// the stream multiplexer) into a single entry point that turns one raw
// user input into one ordered, attributable event stream.
//
// Routing:
//
//	raw input ──▶ parser ──▶ sequential: one unit, pass-through events
//	                     └─▶ concurrent: clamp, N units, merged attributed stream
//
// The engine owns all cross-call mutable state (the lock manager's path
// maps, the retry policy's per-call contexts). That state's lifecycle is
// tied to the Engine instance: constructing a fresh Engine yields a fully
// isolated orchestration domain, which keeps tests and long-lived sessions
// from leaking into each other.
package engine
