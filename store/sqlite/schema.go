package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		role            TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
		content         TEXT NOT NULL,
		metadata        TEXT,
		created_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq)`,
	`CREATE TABLE IF NOT EXISTS user_memories (
		id                   TEXT PRIMARY KEY,
		user_id              TEXT NOT NULL UNIQUE,
		content              TEXT NOT NULL DEFAULT '',
		last_consolidated_at TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_summaries (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		summary         TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON conversation_summaries (conversation_id, created_at)`,
}

// ensureSchema installs every table and records the schema version. It is
// safe to run on every start.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema exec failed: %w (sql: %s)", err, stmt)
		}
	}

	var current int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current < schemaVersion {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			return fmt.Errorf("reset schema version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return tx.Commit()
}
