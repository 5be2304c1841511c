// Package tool implements the tool execution collaborator: structured
// capabilities the remote service may request during a call. The engine's
// only contract with it is that filesystem-mutating actions expose the path
// they touch, so the execution unit can serialize them through the lock
// manager.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/callmesh/internal/util"
)

// Tool defines the interface for capabilities the remote service can invoke.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe: tools run concurrently across execution units
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended).
	Name() string

	// Description returns a human-readable description provided to the
	// remote service to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// PathMutator is implemented by tools whose execution mutates a file. The
// returned path keys the advisory lock the execution unit must hold while
// the tool runs. ok is false when this particular invocation does not
// mutate anything (e.g. a dry-run flag is set).
type PathMutator interface {
	MutatedPath(args map[string]any) (path string, ok bool)
}

// ValidationError represents argument validation errors with detailed
// information.
type ValidationError = util.ValidationError

// Error represents failures during tool execution.
type Error struct {
	Tool    string `json:"tool"`    // Name of the tool that failed
	Message string `json:"message"` // Error message
	Code    string `json:"code"`    // Error code for categorization
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates a new Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}
