// Package logging provides a minimal logging interface and adapters for Lumen.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the agent loop, the relay and both HTTP services use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StructuredLogger with component context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	a := agent.New(client, registry, func(o *agent.Options) { o.Logger = logger })
//
// Messages are dotted event names ("agent.turn.start") followed by key/value pairs.
package logging
