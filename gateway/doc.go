// Package gateway is the client-facing HTTP surface of Lumen.
//
// A stream request is authenticated by the X-User-ID header, bound to a
// conversation (created on first use), enriched with the stored history and
// the user's long-term memory, and forwarded to the engine. The engine's
// event stream is handed to a relay.Relay, which forwards frames to the
// client, persists the assistant message and applies late memory
// consolidations.
//
// Ephemeral requests skip every store read and write:
//
//	POST /v1/ai/stream
//	{"current_message": "Summarize this", "ephemeral": true}
//
// The gateway also serves the conversation and long-term memory resources
// used by the chat UI.
package gateway
