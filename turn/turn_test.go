package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/internal/testutil"
	"github.com/hupe1980/callmesh/lock"
	"github.com/hupe1980/callmesh/model"
	"github.com/hupe1980/callmesh/retry"
	"github.com/stretchr/testify/assert"
)

func testRetryPolicy() *retry.Policy {
	return retry.NewPolicy(retry.Config{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		Exponential:       true,
		RetryableMatchers: []string{"transient"},
	})
}

// countingExecutor records executed tool calls and optionally reports a
// mutated path for lock serialization.
type countingExecutor struct {
	mu       sync.Mutex
	executed []string
	path     string
	delay    time.Duration
	onCall   func()
}

func (e *countingExecutor) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	if e.onCall != nil {
		e.onCall()
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.executed = append(e.executed, call.Name)
	e.mu.Unlock()
	return core.ToolResult{ID: call.ID, Name: call.Name, Result: "ok"}
}

func (e *countingExecutor) MutatedPath(call core.ToolCall) (string, bool) {
	return e.path, e.path != ""
}

func (e *countingExecutor) Definitions() []model.ToolDefinition { return nil }

func TestTurn_CompletesAndPreservesOrder(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("ping",
		core.NewContentEvent("p"),
		core.NewContentEvent("o"),
		core.NewFinishedEvent("stop"),
	)

	tn := New(core.Call{ID: "call1", Prompt: "ping"}, streamer)
	assert.Equal(t, StateIdle, tn.State())

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	assert.Equal(t, StateCompleted, tn.State())
	assert.Len(t, events, 3)
	assert.Equal(t, "p", events[0].Text)
	assert.Equal(t, "o", events[1].Text)
	assert.Equal(t, core.EventFinished, events[2].Kind)
	assert.NoError(t, tn.Err())
}

func TestTurn_NotRestartable(t *testing.T) {
	streamer := model.NewMockStreamer()
	tn := New(core.Call{ID: "call1", Prompt: "x"}, streamer)

	first := testutil.Collect(t, tn.Run(context.Background()), time.Second)
	assert.NotEmpty(t, first)

	second := testutil.Collect(t, tn.Run(context.Background()), time.Second)
	assert.Empty(t, second)
}

func TestTurn_RetriesTransientThenCompletes(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("ping", core.NewContentEvent("pong"))
	streamer.AddFailure("ping", errors.New("transient blip"), 2)

	tn := New(core.Call{ID: "call1", Prompt: "ping"}, streamer, func(o *Options) {
		o.Retry = testRetryPolicy()
	})

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	assert.Equal(t, StateCompleted, tn.State())
	assert.Equal(t, "pong", events[0].Text)
}

func TestTurn_FailsAfterRetryExhaustion(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddFailure("ping", errors.New("transient forever"), 100)

	tn := New(core.Call{ID: "call1", Prompt: "ping"}, streamer, func(o *Options) {
		o.Retry = testRetryPolicy()
	})

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	assert.Equal(t, StateFailed, tn.State())
	assert.EqualError(t, tn.Err(), "transient forever")
	assert.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Kind)
	assert.Equal(t, "transient forever", events[0].ErrorMessage)
}

func TestTurn_NonRetryableFailsImmediately(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddFailure("ping", errors.New("invalid api key"), 100)

	tn := New(core.Call{ID: "call1", Prompt: "ping"}, streamer, func(o *Options) {
		o.Retry = testRetryPolicy()
	})

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	assert.Equal(t, StateFailed, tn.State())
	assert.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Kind)
}

func TestTurn_ToolCallProducesResult(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("do it",
		core.NewToolCallEvent("tc1", "write_file", `{"path":"/tmp/x"}`),
		core.NewFinishedEvent("tool_calls"),
	)
	exec := &countingExecutor{}

	tn := New(core.Call{ID: "call1", Prompt: "do it"}, streamer, func(o *Options) {
		o.Executor = exec
	})

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	assert.Len(t, events, 3)
	assert.Equal(t, core.EventToolCall, events[0].Kind)
	assert.Equal(t, core.EventToolResult, events[1].Kind)
	assert.Equal(t, "write_file", events[1].ToolResult.Name)
	assert.Equal(t, "ok", events[1].ToolResult.Result)
	assert.Equal(t, core.EventFinished, events[2].Kind)
	assert.Equal(t, []string{"write_file"}, exec.executed)
}

func TestTurn_MutatingToolHoldsLock(t *testing.T) {
	locks := lock.NewManager()
	streamer := model.NewMockStreamer()
	streamer.AddResponse("do it",
		core.NewToolCallEvent("tc1", "write_file", `{}`),
	)

	exec := &countingExecutor{path: "/shared.txt", delay: 30 * time.Millisecond}
	var lockedDuringExec bool
	exec.onCall = func() { lockedDuringExec = locks.IsLocked("/shared.txt") }

	tn := New(core.Call{ID: "call1", Prompt: "do it"}, streamer, func(o *Options) {
		o.Executor = exec
		o.Locks = locks
	})

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	assert.True(t, lockedDuringExec)
	// Lock released before the result event was emitted and never leaked.
	assert.False(t, locks.IsLocked("/shared.txt"))
	assert.Equal(t, core.EventToolResult, events[1].Kind)
	assert.Empty(t, events[1].ToolResult.Error)
}

func TestTurn_LockTimeoutFailsOnlyThatToolCall(t *testing.T) {
	locks := lock.NewManager()
	blocker, err := locks.Acquire(context.Background(), "/shared.txt", "other", time.Second)
	assert.NoError(t, err)
	defer locks.Release(blocker.LockID)

	streamer := model.NewMockStreamer()
	streamer.AddResponse("do it",
		core.NewToolCallEvent("tc1", "write_file", `{}`),
		core.NewContentEvent("continuing"),
		core.NewFinishedEvent("stop"),
	)

	exec := &countingExecutor{path: "/shared.txt"}
	tn := New(core.Call{ID: "call1", Prompt: "do it"}, streamer, func(o *Options) {
		o.Executor = exec
		o.Locks = locks
		o.LockTimeout = 30 * time.Millisecond
	})

	events := testutil.Collect(t, tn.Run(context.Background()), time.Second)

	// The tool call fails with the lock timeout but the turn completes.
	assert.Equal(t, StateCompleted, tn.State())
	assert.Equal(t, core.EventToolResult, events[1].Kind)
	assert.Contains(t, events[1].ToolResult.Error, "timed out")
	assert.Empty(t, exec.executed)
	assert.Equal(t, "continuing", events[2].Text)
}

func TestTurn_CancellationStopsStream(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("slow",
		core.NewContentEvent("a"),
		core.NewContentEvent("b"),
		core.NewContentEvent("c"),
	)
	streamer.AddDelay("slow", 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	tn := New(core.Call{ID: "call1", Prompt: "slow"}, streamer)

	ch := tn.Run(ctx)
	_ = testutil.Next(t, ch, time.Second) // first event arrived
	cancel()

	rest := testutil.Collect(t, ch, time.Second)

	assert.Equal(t, StateCancelled, tn.State())
	// No error event is emitted for cancellation.
	for _, ev := range rest {
		assert.NotEqual(t, core.EventError, ev.Kind)
	}
}
