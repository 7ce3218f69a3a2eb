// Package sqlite provides the durable core.Store backed by SQLite through the
// pure-Go modernc.org/sqlite driver.
//
// The schema (conversations, messages, user_memories, conversation_summaries)
// is installed idempotently by Open. Message metadata is stored as JSON text;
// deleting a conversation cascades to its messages and summaries.
package sqlite
