package callmesh

import (
	"context"
	"testing"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/engine"
	"github.com/hupe1980/callmesh/history"
	"github.com/hupe1980/callmesh/model"
	"github.com/hupe1980/callmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallMesh_ConcurrentOrchestration(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("ping", core.NewContentEvent("pong"))
	streamer.AddResponse("hello", core.NewContentEvent("world"))

	cm := New(streamer)
	events, err := cm.OrchestrateSync(context.Background(), "call1: ping, call2: hello")
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestCallMesh_ToolsReachTheStream(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("write it",
		core.NewToolCallEvent("tc1", "write_file", `{"path":"/tmp/a","content":"x"}`),
	)

	var written string
	writeTool := tool.NewFunctionTool(
		"write_file",
		"Write content to a file",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			written = args["path"].(string)
			return "ok", nil
		},
		func(o *tool.FunctionToolOptions) {
			o.MutatedPath = func(args map[string]any) (string, bool) {
				p, _ := args["path"].(string)
				return p, p != ""
			}
		},
	)

	cm := New(streamer, func(o *Options) {
		o.Tools = []tool.Tool{writeTool}
	})
	events, err := cm.OrchestrateSync(context.Background(), "call1: write it")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/a", written)
	var sawResult bool
	for _, ev := range events {
		if ev.Kind == core.EventToolResult {
			sawResult = true
			assert.Empty(t, ev.ToolResult.Error)
		}
	}
	assert.True(t, sawResult)
	assert.False(t, cm.Engine().Locks().IsLocked("/tmp/a"))
}

func TestCallMesh_HistoryRecordsRuns(t *testing.T) {
	streamer := model.NewMockStreamer()
	streamer.AddResponse("ping", core.NewContentEvent("pong"))

	store := history.NewInMemoryStore()
	cm := New(streamer, func(o *Options) {
		o.History = store
	})

	events, err := cm.OrchestrateSync(context.Background(), "call1: ping")
	require.NoError(t, err)

	ids, err := store.List()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	rec, err := store.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "call1: ping", rec.Input)
	assert.Equal(t, []core.Call{{ID: "call1", Prompt: "ping"}}, rec.Calls)
	assert.Len(t, rec.Events, len(events))
	assert.True(t, rec.Completed())
}

func TestCallMesh_EngineConfigFlowsThrough(t *testing.T) {
	streamer := model.NewMockStreamer()
	raw := "call1: ping, call2: hello"
	streamer.AddResponse(raw, core.NewContentEvent("whole"))

	cm := New(streamer, func(o *Options) {
		o.EngineConfig = engine.DefaultConfig
		o.EngineConfig.ConcurrencyEnabled = false
	})
	events, err := cm.OrchestrateSync(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Empty(t, events[0].CallID)
}
