package tool

import (
	"context"

	"github.com/hupe1980/callmesh/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. Arguments are validated against the supplied schema before the
// function runs; validation failures and plain errors are normalized into
// *Error with consistent codes (VALIDATION_ERROR, EXECUTION_ERROR). A
// FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
	// pathFn, when set, marks this tool as filesystem-mutating.
	pathFn func(args map[string]any) (string, bool)
}

// FunctionToolOptions configures optional FunctionTool behavior.
type FunctionToolOptions struct {
	// MutatedPath marks the tool as filesystem-mutating; the execution
	// unit serializes invocations per returned path.
	MutatedPath func(args map[string]any) (string, bool)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and
// function.
//
// Example:
//
//	writeTool := NewFunctionTool(
//	  "write_file",
//	  "Write content to a file",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "path":    map[string]any{"type": "string"},
//	      "content": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"path", "content"},
//	  },
//	  writeFile,
//	  func(o *FunctionToolOptions) {
//	    o.MutatedPath = func(args map[string]any) (string, bool) {
//	      p, _ := args["path"].(string)
//	      return p, p != ""
//	    }
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, optFn := range optFns {
		optFn(&opts)
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		pathFn:      opts.MutatedPath,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. It is a convenience for simple argument containers and produces
// a schema equivalent to util.SchemaFromStruct(structType).
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  SumArgs{},
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	schema := util.SchemaFromStruct(structType)
	return NewFunctionTool(name, description, schema, fn, optFns...)
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call implements Tool. Arguments are validated against the schema first.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateArguments(args, t.parameters); err != nil {
		return nil, NewError(t.name, err.Error(), "VALIDATION_ERROR")
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*Error); ok {
			return nil, toolErr
		}
		return nil, NewError(t.name, err.Error(), "EXECUTION_ERROR")
	}
	return result, nil
}

// MutatedPath implements PathMutator when a path function was configured.
func (t *FunctionTool) MutatedPath(args map[string]any) (string, bool) {
	if t.pathFn == nil {
		return "", false
	}
	return t.pathFn(args)
}
