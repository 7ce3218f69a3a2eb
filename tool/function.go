package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/lumen/internal/util"
)

// Func is the signature wrapped by FunctionTool. The returned value is
// rendered into Result.Content: strings verbatim, a Result as is, anything
// else as JSON.
type Func func(ctx context.Context, args map[string]any) (any, error)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Arguments are validated against the declared schema before the function
// runs. Failures are normalized into *ToolError:
//
//	VALIDATION_ERROR  -> schema / argument mismatch
//	EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//	(custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	label       string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{
		name:        name,
		label:       name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection (see util.CreateSchema).
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// WithLabel sets the presentation label and returns the tool for chaining.
func (t *FunctionTool) WithLabel(label string) *FunctionTool {
	t.label = label
	return t
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Label returns the human readable label.
func (t *FunctionTool) Label() string { return t.label }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Execute validates args then invokes the wrapped function.
func (t *FunctionTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return Result{}, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	out, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return Result{}, toolErr
		}
		return Result{}, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	return toResult(out)
}

func toResult(v any) (Result, error) {
	switch x := v.(type) {
	case nil:
		return Result{}, nil
	case Result:
		return x, nil
	case string:
		return Text(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return Result{}, fmt.Errorf("encode tool output: %w", err)
		}
		return Text(string(b)), nil
	}
}
