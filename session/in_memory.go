package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/lumen/core"
)

// InMemoryStore is a volatile ConversationStore implementation storing
// conversations in a process local map. It is safe for concurrent access and
// best suited for tests or ephemeral demo servers. Returned records are
// copies to prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	messages      map[string][]core.StoredMessage
	now           func() time.Time
}

// NewInMemoryStore constructs an empty in‑memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*core.Conversation),
		messages:      make(map[string][]core.StoredMessage),
		now:           time.Now,
	}
}

// CreateConversation allocates a new conversation owned by userID.
func (s *InMemoryStore) CreateConversation(_ context.Context, userID, title string) (*core.Conversation, error) {
	now := s.now()
	conv := &core.Conversation{
		ID:        core.NewID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

// GetConversation returns a copy of the conversation or core.ErrNotFound.
func (s *InMemoryStore) GetConversation(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

// ListConversations returns the user's conversations, most recently updated
// first.
func (s *InMemoryStore) ListConversations(_ context.Context, userID string) ([]core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Conversation, 0)
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateConversationTitle renames the conversation or returns
// core.ErrNotFound.
func (s *InMemoryStore) UpdateConversationTitle(_ context.Context, id, title string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	cp := *conv
	return &cp, nil
}

// DeleteConversation removes the conversation and its messages.
func (s *InMemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// AppendMessage stores msg under its conversation, assigning ID and
// CreatedAt when unset. The conversation must exist.
func (s *InMemoryStore) AppendMessage(_ context.Context, msg core.StoredMessage) (*core.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.Metadata = cloneMetadata(msg.Metadata)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	conv.UpdatedAt = msg.CreatedAt

	out := msg
	out.Metadata = cloneMetadata(msg.Metadata)
	return &out, nil
}

// ListMessages returns the conversation's messages in insertion order.
func (s *InMemoryStore) ListMessages(_ context.Context, conversationID string) ([]core.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, core.ErrNotFound)
	}
	msgs := s.messages[conversationID]
	out := make([]core.StoredMessage, len(msgs))
	for i, m := range msgs {
		m.Metadata = cloneMetadata(m.Metadata)
		out[i] = m
	}
	return out, nil
}

func cloneMetadata(md *core.MessageMetadata) *core.MessageMetadata {
	if md == nil {
		return nil
	}
	return &core.MessageMetadata{ToolCalls: append([]core.ToolCall(nil), md.ToolCalls...)}
}
