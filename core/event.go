package core

import "encoding/json"

// EventKind names a StreamEvent variant. The values double as the "event"
// discriminator on the wire.
type EventKind string

const (
	KindStart               EventKind = "start"
	KindTurnStart           EventKind = "turn_start"
	KindChunk               EventKind = "chunk"
	KindToolCall            EventKind = "tool_call"
	KindToolResult          EventKind = "tool_result"
	KindAgentComplete       EventKind = "agent_complete"
	KindMemoryConsolidation EventKind = "memory_consolidation"
	KindEnd                 EventKind = "end"
	KindError               EventKind = "error"
)

// StreamEvent is one observable step of a response. Concrete event types
// implement the unexported isStreamEvent marker, making the set closed.
type StreamEvent interface {
	Kind() EventKind
	isStreamEvent()
}

// StartEvent opens a persisted stream and carries the identifiers created for
// the request before any model output.
type StartEvent struct {
	ConversationID string
	UserMessageID  string
}

// TurnStartEvent marks the beginning of a reasoning turn (1-based).
type TurnStartEvent struct {
	Turn int
}

// ChunkEvent carries an incremental assistant text delta.
type ChunkEvent struct {
	Text string
}

// ToolCallEvent announces that a tool is about to be executed.
type ToolCallEvent struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResultEvent carries the outcome of a previously announced tool call.
type ToolResultEvent struct {
	ID      string
	Name    string
	Result  string
	IsError bool
}

// AgentCompleteEvent reports that the model produced a tool-free answer.
type AgentCompleteEvent struct {
	TotalTurns int
}

// MemoryConsolidationEvent carries the outcome of a background consolidation.
// It is consumed by the relay and never forwarded to the client.
type MemoryConsolidationEvent struct {
	Result ConsolidationResult
}

// EndEvent terminates a successful stream. MessageID is empty when the
// assistant message could not be persisted.
type EndEvent struct {
	ConversationID string
	MessageID      string
}

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Message string
}

func (StartEvent) Kind() EventKind               { return KindStart }
func (TurnStartEvent) Kind() EventKind           { return KindTurnStart }
func (ChunkEvent) Kind() EventKind               { return KindChunk }
func (ToolCallEvent) Kind() EventKind            { return KindToolCall }
func (ToolResultEvent) Kind() EventKind          { return KindToolResult }
func (AgentCompleteEvent) Kind() EventKind       { return KindAgentComplete }
func (MemoryConsolidationEvent) Kind() EventKind { return KindMemoryConsolidation }
func (EndEvent) Kind() EventKind                 { return KindEnd }
func (ErrorEvent) Kind() EventKind               { return KindError }

func (StartEvent) isStreamEvent()               {}
func (TurnStartEvent) isStreamEvent()           {}
func (ChunkEvent) isStreamEvent()               {}
func (ToolCallEvent) isStreamEvent()            {}
func (ToolResultEvent) isStreamEvent()          {}
func (AgentCompleteEvent) isStreamEvent()       {}
func (MemoryConsolidationEvent) isStreamEvent() {}
func (EndEvent) isStreamEvent()                 {}
func (ErrorEvent) isStreamEvent()               {}

// IsTerminal reports whether ev closes a stream (end or error).
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case EndEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// ConsolidationResult is the outcome of summarizing older history. Either
// field may be empty when the model produced nothing new.
type ConsolidationResult struct {
	MemoryUpdate string `json:"memory_update,omitempty"`
	HistoryEntry string `json:"history_entry,omitempty"`
}

// IsEmpty reports whether neither field carries content.
func (r ConsolidationResult) IsEmpty() bool {
	return r.MemoryUpdate == "" && r.HistoryEntry == ""
}
