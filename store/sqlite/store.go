package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/lumen/core"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Options configures a Store.
type Options struct {
	// BusyTimeout is how long a connection waits for a lock.
	BusyTimeout time.Duration
	// MaxOpenConns caps the pool; SQLite serializes writers anyway.
	MaxOpenConns int
	Clock        func() time.Time
}

// Store is a core.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ core.Store = (*Store)(nil)

// Open opens (creating when missing) the database file at path and installs
// the schema. path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
		Clock:        time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: empty database path")
	}

	dsn := buildDSN(path, opts.BusyTimeout)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	} else {
		// Every connection to :memory: is a separate database.
		opts.MaxOpenConns = 1
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: opts.Clock}, nil
}

func buildDSN(path string, busy time.Duration) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle, e.g. for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) timestamp() (time.Time, string) {
	t := s.now().UTC()
	return t, t.Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*core.Conversation, error) {
	now, ts := s.timestamp()
	conv := &core.Conversation{ID: core.NewID(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, userID, title, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation implements core.ConversationStore.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	return conv, nil
}

// ListConversations implements core.ConversationStore.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	out := make([]core.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

// UpdateConversationTitle implements core.ConversationStore.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) (*core.Conversation, error) {
	_, ts := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title, ts, id)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, core.ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation implements core.ConversationStore.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// AppendMessage implements core.ConversationStore. The conversation's
// updated_at is bumped in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, msg core.StoredMessage) (*core.StoredMessage, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	now, ts := s.timestamp()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	} else {
		ts = msg.CreatedAt.UTC().Format(timeLayout)
	}

	var metadata sql.NullString
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode message metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, ts, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, metadata, ts)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return &msg, nil
}

// ListMessages implements core.ConversationStore.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]core.StoredMessage, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	out := make([]core.StoredMessage, 0)
	for rows.Next() {
		var (
			m        core.StoredMessage
			role     string
			metadata sql.NullString
			created  string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = core.Role(role)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse message time: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			var md core.MessageMetadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
			m.Metadata = &md
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMemory implements core.MemoryStore.
func (s *Store) GetMemory(ctx context.Context, userID string) (*core.LongTermMemory, error) {
	var (
		mem          core.LongTermMemory
		consolidated sql.NullString
		updated      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, content, last_consolidated_at, updated_at FROM user_memories WHERE user_id = ?`, userID).
		Scan(&mem.UserID, &mem.Content, &consolidated, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select memory: %w", err)
	}
	if mem.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse memory time: %w", err)
	}
	if consolidated.Valid {
		t, err := parseTime(consolidated.String)
		if err != nil {
			return nil, fmt.Errorf("parse memory time: %w", err)
		}
		mem.LastConsolidatedAt = &t
	}
	return &mem, nil
}

// UpsertMemory implements core.MemoryStore. The profile is replaced; a
// non-consolidated write keeps the previous consolidation stamp.
func (s *Store) UpsertMemory(ctx context.Context, userID, content string, consolidated bool) (*core.LongTermMemory, error) {
	_, ts := s.timestamp()
	var stamp sql.NullString
	if consolidated {
		stamp = sql.NullString{String: ts, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_memories (id, user_id, content, last_consolidated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   content = excluded.content,
		   updated_at = excluded.updated_at,
		   last_consolidated_at = COALESCE(excluded.last_consolidated_at, user_memories.last_consolidated_at)`,
		core.NewID(), userID, content, stamp, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}
	return s.GetMemory(ctx, userID)
}

// AppendSummary implements core.SummaryStore.
func (s *Store) AppendSummary(ctx context.Context, conversationID, summary string) (*core.Summary, error) {
	now, ts := s.timestamp()
	sum := &core.Summary{ID: core.NewID(), ConversationID: conversationID, Summary: summary, CreatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_summaries (id, conversation_id, summary, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sum.ID, conversationID, summary, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	return sum, nil
}

// ListSummaries implements core.SummaryStore.
func (s *Store) ListSummaries(ctx context.Context, conversationID string) ([]core.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, summary, created_at FROM conversation_summaries
		 WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("select summaries: %w", err)
	}
	defer rows.Close()

	out := make([]core.Summary, 0)
	for rows.Next() {
		var (
			sum     core.Summary
			created string
		)
		if err := rows.Scan(&sum.ID, &sum.ConversationID, &sum.Summary, &created); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if sum.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse summary time: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*core.Conversation, error) {
	var (
		conv             core.Conversation
		created, updated string
	)
	if err := r.Scan(&conv.ID, &conv.UserID, &conv.Title, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if conv.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &conv, nil
}
