// Package core provides the foundational domain types shared by every Lumen
// component. It defines:
//
//   - Messages and tool calls (the model's conversational context)
//   - StreamEvents (the closed set of observable steps of one response)
//   - The client-visible wire codec for those events (one JSON object per frame)
//   - Store records and contracts for conversations, long-term memory and summaries
//
// The package intentionally keeps implementation concerns (model providers,
// persistence backends, HTTP transport) out of scope, exposing small
// interfaces so that the agent loop, the relay and the stores stay decoupled.
package core
