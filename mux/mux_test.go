package mux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/internal/testutil"
	"github.com/hupe1980/callmesh/model"
	"github.com/hupe1980/callmesh/turn"
	"github.com/stretchr/testify/assert"
)

// stubUnit is a hand-rolled Unit for shaping failure modes the real Turn
// would not produce, e.g. failing without an in-stream error event.
type stubUnit struct {
	call     core.Call
	events   []core.StreamEvent
	state    turn.State
	err      error
	perEvent time.Duration
}

func newStubUnit(id string, state turn.State, events ...core.StreamEvent) *stubUnit {
	return &stubUnit{
		call:   core.Call{ID: id, Prompt: id},
		events: events,
		state:  state,
	}
}

func (s *stubUnit) Call() core.Call { return s.call }

func (s *stubUnit) Run(ctx context.Context) <-chan core.StreamEvent {
	out := make(chan core.StreamEvent, len(s.events))
	go func() {
		defer close(out)
		for _, ev := range s.events {
			if s.perEvent > 0 {
				time.Sleep(s.perEvent)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *stubUnit) State() turn.State { return s.state }
func (s *stubUnit) Err() error        { return s.err }

func newTurnUnit(id, prompt string, streamer model.Streamer) Unit {
	return turn.New(core.Call{ID: id, Prompt: prompt}, streamer)
}

func TestMerge_AttributesEveryEvent(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("ping", core.NewContentEvent("pong"))
	streamer.AddResponse("hello", core.NewContentEvent("world"))

	units := []Unit{
		newTurnUnit("call1", "ping", streamer),
		newTurnUnit("call2", "hello", streamer),
	}

	events := testutil.Collect(t, Merge(context.Background(), units), time.Second)

	// 2 events per unit: one content, one finished.
	assert.Len(t, events, 4)
	byCall := map[string]int{}
	for _, ev := range events {
		assert.NotEmpty(t, ev.CallID)
		assert.NotEmpty(t, ev.CallTitle)
		assert.False(t, ev.Timestamp.IsZero())
		byCall[ev.CallID]++
	}
	assert.Equal(t, 2, byCall["call1"])
	assert.Equal(t, 2, byCall["call2"])
}

func TestMerge_PreservesIntraUnitOrder(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("count",
		core.NewContentEvent("1"),
		core.NewContentEvent("2"),
		core.NewContentEvent("3"),
	)
	streamer.AddResponse("letters",
		core.NewContentEvent("a"),
		core.NewContentEvent("b"),
		core.NewContentEvent("c"),
	)

	units := []Unit{
		newTurnUnit("call1", "count", streamer),
		newTurnUnit("call2", "letters", streamer),
	}

	events := testutil.Collect(t, Merge(context.Background(), units), time.Second)

	perUnit := map[string][]string{}
	for _, ev := range events {
		if ev.Kind == core.EventContent {
			perUnit[ev.CallID] = append(perUnit[ev.CallID], ev.Text)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, perUnit["call1"])
	assert.Equal(t, []string{"a", "b", "c"}, perUnit["call2"])
}

func TestMerge_FailingUnitIsIsolated(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("ok", core.NewContentEvent("fine"))
	streamer.AddFailure("boom", errors.New("invalid api key"), 100)

	units := []Unit{
		newTurnUnit("call1", "ok", streamer),
		newTurnUnit("call2", "boom", streamer),
	}

	events := testutil.Collect(t, Merge(context.Background(), units), time.Second)

	var okEvents, errEvents int
	for _, ev := range events {
		switch {
		case ev.CallID == "call1":
			okEvents++
			assert.NotEqual(t, core.EventError, ev.Kind)
		case ev.Kind == core.EventError:
			errEvents++
			assert.Equal(t, "call2", ev.CallID)
			assert.Equal(t, "invalid api key", ev.ErrorMessage)
		}
	}
	// The healthy unit is untouched and the failure surfaces exactly once.
	assert.Equal(t, 2, okEvents)
	assert.Equal(t, 1, errEvents)
}

func TestMerge_SynthesizesErrorForSilentFailure(t *testing.T) {
	silent := newStubUnit("call1", turn.StateFailed)
	silent.err = errors.New("stream torn down")

	events := testutil.Collect(t, Merge(context.Background(), []Unit{silent}), time.Second)

	assert.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Kind)
	assert.Equal(t, "stream torn down", events[0].ErrorMessage)
	assert.Equal(t, "call1", events[0].CallID)
}

func TestMerge_NoSynthesizedErrorWhenUnitReported(t *testing.T) {
	reported := newStubUnit("call1", turn.StateFailed,
		core.NewErrorEvent("already told you", "unit_failed"),
	)

	events := testutil.Collect(t, Merge(context.Background(), []Unit{reported}), time.Second)

	assert.Len(t, events, 1)
	assert.Equal(t, "already told you", events[0].ErrorMessage)
}

func TestMerge_ClosesAfterAllUnitsTerminal(t *testing.T) {
	fast := newStubUnit("call1", turn.StateCompleted, core.NewFinishedEvent("stop"))
	slow := newStubUnit("call2", turn.StateCompleted,
		core.NewContentEvent("late"),
		core.NewFinishedEvent("stop"),
	)
	slow.perEvent = 20 * time.Millisecond

	ch := Merge(context.Background(), []Unit{fast, slow})

	events := testutil.Collect(t, ch, time.Second)
	assert.Len(t, events, 3)

	_, open := <-ch
	assert.False(t, open)
}

func TestMerge_CancellationTerminates(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("slow",
		core.NewContentEvent("a"),
		core.NewContentEvent("b"),
		core.NewContentEvent("c"),
	)
	streamer.AddDelay("slow", 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	units := []Unit{
		newTurnUnit("call1", "slow", streamer),
		newTurnUnit("call2", "slow", streamer),
	}

	ch := Merge(ctx, units)
	_ = testutil.Next(t, ch, time.Second)
	cancel()

	// The merged stream terminates; leftover buffered events may still
	// arrive but the channel must close promptly.
	testutil.Collect(t, ch, time.Second)
}
