package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is a persisted conversation owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageMetadata is the optional structured payload stored with a message.
type MessageMetadata struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StoredMessage is a persisted conversation message.
type StoredMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// LongTermMemory is the free-text profile kept per user. Each successful
// consolidation overwrites Content.
type LongTermMemory struct {
	UserID             string     `json:"user_id"`
	Content            string     `json:"content"`
	LastConsolidatedAt *time.Time `json:"last_consolidated_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Summary is an archived summary of an older conversation segment.
type Summary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// ListConversations returns the user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	// UpdateConversationTitle renames a conversation and bumps UpdatedAt.
	UpdateConversationTitle(ctx context.Context, id, title string) (*Conversation, error)
	// DeleteConversation removes a conversation with its messages and summaries.
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, msg StoredMessage) (*StoredMessage, error)
	ListMessages(ctx context.Context, conversationID string) ([]StoredMessage, error)
}

// MemoryStore persists the long-term memory profile of each user.
type MemoryStore interface {
	GetMemory(ctx context.Context, userID string) (*LongTermMemory, error)
	// UpsertMemory replaces the profile. consolidated marks writes produced by
	// background consolidation (they stamp LastConsolidatedAt).
	UpsertMemory(ctx context.Context, userID, content string, consolidated bool) (*LongTermMemory, error)
}

// SummaryStore archives conversation summaries.
type SummaryStore interface {
	AppendSummary(ctx context.Context, conversationID, summary string) (*Summary, error)
	ListSummaries(ctx context.Context, conversationID string) ([]Summary, error)
}

// Store aggregates every persistence contract used by the gateway.
type Store interface {
	ConversationStore
	MemoryStore
	SummaryStore
}

// ToHistory converts stored messages into model context messages.
func ToHistory(msgs []StoredMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}
