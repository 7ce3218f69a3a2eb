package testutil

import (
	"encoding/json"

	"github.com/hupe1980/lumen/core"
)

// StreamBuilder provides a fluent helper for constructing SSE byte streams
// as the engine writes them.
// Example:
//
//	body := NewStreamBuilder().TurnStart(1).Chunk("hi").AgentComplete(1).End().Bytes()
//
// Chain only the frames you need.
type StreamBuilder struct {
	buf []byte
}

// NewStreamBuilder creates an empty builder.
func NewStreamBuilder() *StreamBuilder { return &StreamBuilder{} }

// Event appends the frame of ev (chainable). Encoding failures panic.
func (b *StreamBuilder) Event(ev core.StreamEvent) *StreamBuilder {
	frame, err := core.EncodeFrame(ev)
	if err != nil {
		panic(err)
	}
	b.buf = append(b.buf, frame...)
	return b
}

// TurnStart appends a turn_start frame (chainable).
func (b *StreamBuilder) TurnStart(turn int) *StreamBuilder {
	return b.Event(core.TurnStartEvent{Turn: turn})
}

// Chunk appends a chunk frame (chainable).
func (b *StreamBuilder) Chunk(text string) *StreamBuilder { return b.Event(core.ChunkEvent{Text: text}) }

// ToolCall appends a tool_call frame with raw JSON args (chainable).
func (b *StreamBuilder) ToolCall(id, name, args string) *StreamBuilder {
	return b.Event(core.ToolCallEvent{ID: id, Name: name, Args: json.RawMessage(args)})
}

// ToolResult appends a tool_result frame (chainable).
func (b *StreamBuilder) ToolResult(id, name, result string, isError bool) *StreamBuilder {
	return b.Event(core.ToolResultEvent{ID: id, Name: name, Result: result, IsError: isError})
}

// AgentComplete appends an agent_complete frame (chainable).
func (b *StreamBuilder) AgentComplete(turns int) *StreamBuilder {
	return b.Event(core.AgentCompleteEvent{TotalTurns: turns})
}

// Consolidation appends a memory_consolidation frame (chainable).
func (b *StreamBuilder) Consolidation(memoryUpdate, historyEntry string) *StreamBuilder {
	return b.Event(core.MemoryConsolidationEvent{Result: core.ConsolidationResult{
		MemoryUpdate: memoryUpdate,
		HistoryEntry: historyEntry,
	}})
}

// End appends the engine's end frame (chainable).
func (b *StreamBuilder) End() *StreamBuilder { return b.Event(core.EndEvent{}) }

// Error appends an error frame (chainable).
func (b *StreamBuilder) Error(msg string) *StreamBuilder { return b.Event(core.ErrorEvent{Message: msg}) }

// Raw appends bytes unchanged (chainable), e.g. a malformed or partial frame.
func (b *StreamBuilder) Raw(s string) *StreamBuilder {
	b.buf = append(b.buf, s...)
	return b
}

// Bytes returns a copy of the stream built so far.
func (b *StreamBuilder) Bytes() []byte { return append([]byte(nil), b.buf...) }

// String returns the stream built so far.
func (b *StreamBuilder) String() string { return string(b.buf) }
