// Package agent implements the tool-calling reasoning loop that answers one
// user message.
//
// A run alternates between streaming a model turn and executing the tool
// calls that turn requested, until the model answers without tools or the
// turn ceiling is reached:
//
//	AwaitingModel -> ExecutingTools -> AwaitingModel -> ... -> Done
//
// Every observable step is reported through a Sink as a core.StreamEvent
// (turn_start, chunk, tool_call, tool_result, agent_complete). When the
// conversation is long enough, a detached memory consolidation is started
// after the loop; its result reaches the same Sink as memory_consolidation.
//
// Tools run sequentially in the order the model requested them. Tool
// failures never abort the loop; model failures do.
package agent
