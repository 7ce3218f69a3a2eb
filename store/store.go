package store

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/session"
	"github.com/hupe1980/lumen/store/sqlite"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Backend is a core.Store that holds resources until closed.
type Backend interface {
	core.Store
	io.Closer
}

// Memory is the volatile Backend: conversations and messages in a
// session.InMemoryStore, profiles and summaries in a memory.InMemoryStore.
type Memory struct {
	conversations *session.InMemoryStore
	memories      *memory.InMemoryStore
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*sqlite.Store)(nil)
)

// NewMemory returns an empty volatile backend.
func NewMemory() *Memory {
	return &Memory{
		conversations: session.NewInMemoryStore(),
		memories:      memory.NewInMemoryStore(),
	}
}

func (m *Memory) CreateConversation(ctx context.Context, userID, title string) (*core.Conversation, error) {
	return m.conversations.CreateConversation(ctx, userID, title)
}

func (m *Memory) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	return m.conversations.GetConversation(ctx, id)
}

func (m *Memory) ListConversations(ctx context.Context, userID string) ([]core.Conversation, error) {
	return m.conversations.ListConversations(ctx, userID)
}

// DeleteConversation removes the conversation with its messages and
// summaries.
func (m *Memory) UpdateConversationTitle(ctx context.Context, id, title string) (*core.Conversation, error) {
	return m.conversations.UpdateConversationTitle(ctx, id, title)
}

func (m *Memory) DeleteConversation(ctx context.Context, id string) error {
	if err := m.conversations.DeleteConversation(ctx, id); err != nil {
		return err
	}
	return m.memories.DeleteSummaries(ctx, id)
}

func (m *Memory) AppendMessage(ctx context.Context, msg core.StoredMessage) (*core.StoredMessage, error) {
	return m.conversations.AppendMessage(ctx, msg)
}

func (m *Memory) ListMessages(ctx context.Context, conversationID string) ([]core.StoredMessage, error) {
	return m.conversations.ListMessages(ctx, conversationID)
}

func (m *Memory) GetMemory(ctx context.Context, userID string) (*core.LongTermMemory, error) {
	return m.memories.GetMemory(ctx, userID)
}

func (m *Memory) UpsertMemory(ctx context.Context, userID, content string, consolidated bool) (*core.LongTermMemory, error) {
	return m.memories.UpsertMemory(ctx, userID, content, consolidated)
}

// AppendSummary archives a summary. Unlike the sqlite backend it does not
// check that the conversation exists.
func (m *Memory) AppendSummary(ctx context.Context, conversationID, summary string) (*core.Summary, error) {
	return m.memories.AppendSummary(ctx, conversationID, summary)
}

func (m *Memory) ListSummaries(ctx context.Context, conversationID string) ([]core.Summary, error) {
	return m.memories.ListSummaries(ctx, conversationID)
}

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }

// Open creates the backend for driver. path is the database file of the
// sqlite driver and ignored otherwise.
func Open(ctx context.Context, driver, path string) (Backend, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
}
