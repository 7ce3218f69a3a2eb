package core

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrToolCallResolved is returned when a tool call outcome is set twice.
var ErrToolCallResolved = errors.New("tool call already resolved")

// Role identifies the author of a Message.
type Role string

const (
	// RoleUser marks messages written by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instructions injected by the server.
	RoleSystem Role = "system"
	// RoleTool marks the result of a tool invocation.
	RoleTool Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// Message is one entry of the model context. Once appended to a history it is
// treated as immutable.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages only
	Name       string     `json:"name,omitempty"`         // tool name for tool messages
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // calls requested by an assistant message
}

// NewUserMessage returns a user-authored message.
func NewUserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// NewSystemMessage returns a system instruction message.
func NewSystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// NewToolMessage returns the tool-role message carrying the result of call id.
func NewToolMessage(id, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: id, Name: name}
}

// ToolCall is a tool invocation requested by the model. ID correlates the
// tool_call event with its later tool_result event within one response.
type ToolCall struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  *string         `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	// Offset is the byte position in the assistant text at which the call was
	// issued, so a presentation layer can render the call inline.
	Offset int `json:"offset"`
}

// Resolve records the executor outcome. It may be called exactly once.
func (tc *ToolCall) Resolve(result string, isError bool) error {
	if tc.Result != nil {
		return ErrToolCallResolved
	}
	tc.Result = &result
	tc.IsError = isError
	return nil
}

// Resolved reports whether the outcome has been recorded.
func (tc ToolCall) Resolved() bool { return tc.Result != nil }

// ArgsMap decodes Args into a generic map. Empty args decode to an empty map.
func (tc ToolCall) ArgsMap() (map[string]any, error) {
	args := map[string]any{}
	if len(tc.Args) == 0 || string(tc.Args) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(tc.Args, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// NewID generates a new unique identifier (UUID v4 string).
func NewID() string { return uuid.NewString() }

// ToolDefinition describes a callable capability to the model: name,
// description and the JSON schema of its arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
