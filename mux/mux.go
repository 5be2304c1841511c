// Package mux fans in the event streams of multiple execution units into a
// single attributed output stream. Each unit keeps its own emission order;
// ordering across units is first-ready. A failing unit is isolated: its
// failure becomes one attributed error event while the remaining units
// continue undisturbed.
package mux

import (
	"context"
	"sync"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/logging"
	"github.com/hupe1980/callmesh/turn"
)

// Unit is the execution unit contract the multiplexer consumes. *turn.Turn
// is the canonical implementation.
type Unit interface {
	// Call identifies the unit for event attribution.
	Call() core.Call
	// Run starts the unit and returns its ordered event stream; the
	// channel closes once the unit is terminal.
	Run(ctx context.Context) <-chan core.StreamEvent
	// State reports the unit's lifecycle phase.
	State() turn.State
	// Err returns the terminal failure after StateFailed.
	Err() error
}

// Options configures a merge.
type Options struct {
	// BufferSize sets the output channel buffer. The per-unit look-ahead
	// stays bounded regardless: each unit contributes at most one pending
	// send.
	BufferSize int
	// Logger receives structured diagnostics.
	Logger logging.Logger
}

// Merge starts every unit and fans their streams into one attributed
// channel. Every forwarded event is stamped with its originating call
// exactly once. The returned channel closes exactly when all units have
// reached a terminal state; cancellation of ctx drains and terminates the
// merge. Events from one unit preserve that unit's emission order.
func Merge(ctx context.Context, units []Unit, optFns ...func(o *Options)) <-chan core.AttributedEvent {
	opts := Options{
		BufferSize: 64,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	out := make(chan core.AttributedEvent, opts.BufferSize)

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go forward(ctx, u, out, &wg, opts.Logger)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// forward relays one unit's stream, attributing each event. One goroutine
// per unit with a blocking send is the select/fan-in primitive: the pending
// "next event" of each unit is exactly one deep, so no unit's output is
// buffered wholesale and whichever unit is ready first wins.
func forward(ctx context.Context, u Unit, out chan<- core.AttributedEvent, wg *sync.WaitGroup, logger logging.Logger) {
	defer wg.Done()

	call := u.Call()
	sawError := false

	for ev := range u.Run(ctx) {
		if ev.Kind == core.EventError {
			sawError = true
		}
		select {
		case out <- core.NewAttributedEvent(ev, call):
		case <-ctx.Done():
			// Consumer is gone; drain the unit so it can terminate.
			continue
		}
	}

	// A unit that failed without reporting in-stream still surfaces in the
	// merged output; failures never cross unit boundaries silently.
	if u.State() == turn.StateFailed && !sawError {
		msg := "execution unit failed"
		if err := u.Err(); err != nil {
			msg = err.Error()
		}
		logger.Debug("mux.unit.synthesized_error", "call_id", call.ID, "error", msg)
		select {
		case out <- core.NewAttributedEvent(core.NewErrorEvent(msg, "unit_failed"), call):
		case <-ctx.Done():
		}
	}
}
