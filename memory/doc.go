// Package memory implements long-term memory consolidation: deciding when a
// conversation is long enough to compact, summarizing its oldest segment
// into a user profile update and an archived history entry, and running that
// work detached from the request that triggered it.
//
// InMemoryStore is a process-local core.MemoryStore and core.SummaryStore
// for tests and single-node setups; store/sqlite provides durable storage.
package memory
