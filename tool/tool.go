// Package tool implements the capability registry the agent loop uses to
// invoke structured capabilities (computations, lookups, side effects) with
// schema validated arguments and uniform error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/lumen/internal/util"
)

// Tool is a named, schema-described capability the model may request.
//
// Implementations should:
//   - Use snake_case names; the name is the routing key
//   - Return a descriptive JSON schema so the model can fill arguments
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Label returns a short human readable name for presentation layers.
	Label() string

	// Description is provided to the model to decide when to use the tool.
	Description() string

	// Parameters returns the JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Execute runs the tool. A returned error means the tool failed; a Result
	// with IsError set means it ran but reports a failure to the model.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Result is the outcome of a tool execution. Content is what the model sees;
// Display is an optional richer rendering for clients.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	Display string `json:"display,omitempty"`
}

// Text returns a successful Result carrying content.
func Text(content string) Result { return Result{Content: content} }

// Failure returns a Result flagged as an error.
func Failure(content string) Result { return Result{Content: content, IsError: true} }

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
