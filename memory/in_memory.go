package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/lumen/core"
)

// InMemoryStore is a naive process-local store for long-term memories and
// conversation summaries.
//
// Concurrency: protected by RWMutex. Memories are keyed by user id; each
// upsert replaces the previous content (last write wins).
type InMemoryStore struct {
	mu        sync.RWMutex
	memories  map[string]core.LongTermMemory // userID -> memory
	summaries map[string][]core.Summary      // conversationID -> summaries
	now       func() time.Time
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:  make(map[string]core.LongTermMemory),
		summaries: make(map[string][]core.Summary),
		now:       time.Now,
	}
}

// GetMemory returns the profile of userID or core.ErrNotFound.
func (m *InMemoryStore) GetMemory(_ context.Context, userID string) (*core.LongTermMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.memories[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &mem, nil
}

// UpsertMemory replaces the profile of userID.
func (m *InMemoryStore) UpsertMemory(_ context.Context, userID, content string, consolidated bool) (*core.LongTermMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	mem := m.memories[userID]
	mem.UserID = userID
	mem.Content = content
	mem.UpdatedAt = now
	if consolidated {
		ts := now
		mem.LastConsolidatedAt = &ts
	}
	m.memories[userID] = mem

	out := mem
	return &out, nil
}

// AppendSummary archives a summary for conversationID.
func (m *InMemoryStore) AppendSummary(_ context.Context, conversationID, summary string) (*core.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := core.Summary{
		ID:             core.NewID(),
		ConversationID: conversationID,
		Summary:        summary,
		CreatedAt:      m.now(),
	}
	m.summaries[conversationID] = append(m.summaries[conversationID], s)
	return &s, nil
}

// ListSummaries returns the summaries of conversationID in insertion order.
func (m *InMemoryStore) ListSummaries(_ context.Context, conversationID string) ([]core.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]core.Summary(nil), m.summaries[conversationID]...), nil
}

// DeleteSummaries drops every summary of conversationID.
func (m *InMemoryStore) DeleteSummaries(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.summaries, conversationID)
	return nil
}
