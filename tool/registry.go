package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/model"
)

// Registry is a thread-safe collection of tools implementing the
// engine-facing execution contract: resolve a core.ToolCall to a registered
// tool, deserialize and validate its JSON arguments, run it, and report the
// outcome as a core.ToolResult. Unknown tools and argument errors become
// failed results, never panics.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry, optionally pre-registering tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(tools...)
	return r
}

// Register adds tools to the registry, replacing same-named entries.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions exposes all registered tools as model tool definitions for
// inclusion in a streaming request.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// MutatedPath reports the file path a tool call would mutate, if any. It
// is consulted by the execution unit before dispatch to decide whether the
// call must hold an advisory lock.
func (r *Registry) MutatedPath(call core.ToolCall) (string, bool) {
	t, ok := r.Get(call.Name)
	if !ok {
		return "", false
	}
	pm, ok := t.(PathMutator)
	if !ok {
		return "", false
	}
	args, err := parseArgs(call.Args)
	if err != nil {
		return "", false
	}
	return pm.MutatedPath(args)
}

// Execute runs the requested tool and reports its outcome. Errors are
// embedded in the result rather than returned: a failed tool call is data
// for the stream, not a failure of the execution unit.
func (r *Registry) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	t, ok := r.Get(call.Name)
	if !ok {
		return core.ToolResult{
			ID:    call.ID,
			Name:  call.Name,
			Error: fmt.Sprintf("tool %s not found", call.Name),
		}
	}

	args, err := parseArgs(call.Args)
	if err != nil {
		return core.ToolResult{
			ID:    call.ID,
			Name:  call.Name,
			Error: fmt.Sprintf("failed to unmarshal args: %v", err),
		}
	}

	result, err := t.Call(ctx, args)
	tr := core.ToolResult{ID: call.ID, Name: call.Name, Result: result}
	if err != nil {
		tr.Error = err.Error()
	}
	return tr
}

// parseArgs deserializes the raw JSON argument string; empty input means no
// arguments.
func parseArgs(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
