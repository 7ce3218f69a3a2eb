// Package engine is the model-side HTTP service. It accepts a conversation
// snapshot on POST /v1/ai/stream, runs the agent loop against the configured
// (or per-request) model provider and streams every loop event as an SSE
// frame, closing with end or error.
//
// After the terminal frame the response stays open for up to
// ConsolidationGrace so that a detached memory consolidation can still
// deliver its memory_consolidation frame to the gateway.
//
// The engine bounds concurrent invocations, tracks them for cancellation and
// exposes lifecycle callbacks.
package engine
