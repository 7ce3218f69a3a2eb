// Package relay re-frames the engine's SSE byte stream for the client.
//
// A FrameScanner splits the upstream bytes into frames at blank lines,
// independent of how the bytes were chunked. Relay.Run classifies every
// frame: most are forwarded verbatim, tool calls and text are recorded for
// persistence, the upstream end is replaced by an enriched end carrying the
// persisted message id, and memory consolidation results are intercepted and
// written to the stores without ever reaching the client.
//
// Exactly one terminal frame (end or error) is written downstream per Run.
package relay
