package model

import (
	"context"
	"strings"

	"github.com/hupe1980/lumen/core"
)

// Delta is one increment of a streamed model response. Text carries content
// deltas; ToolCalls carries complete tool invocations, typically once at the
// end of the stream.
type Delta struct {
	Text      string          `json:"text,omitempty"`
	ToolCalls []core.ToolCall `json:"tool_calls,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "google", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Client is the minimal interface required to drive generation.
//
// Stream starts a generation over msgs. The delta channel is closed when the
// response is complete; the error channel receives at most one error and is
// closed afterwards. Consumers drain deltas first, then read the error.
type Client interface {
	Stream(ctx context.Context, msgs []core.Message) (<-chan Delta, <-chan error)

	// BindTools returns a copy of the client that advertises defs to the model.
	// The receiver is not modified.
	BindTools(defs []core.ToolDefinition) Client

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains one streamed response into its full text and tool calls.
func Collect(ctx context.Context, c Client, msgs []core.Message) (string, []core.ToolCall, error) {
	deltas, errs := c.Stream(ctx, msgs)

	var (
		text  strings.Builder
		calls []core.ToolCall
	)
	for d := range deltas {
		text.WriteString(d.Text)
		calls = append(calls, d.ToolCalls...)
	}
	if err := <-errs; err != nil {
		return text.String(), calls, err
	}
	return text.String(), calls, nil
}
