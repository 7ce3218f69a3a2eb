package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/internal/httpx"
)

// Handler returns the HTTP API of the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ai/stream", g.handleStream)
	mux.HandleFunc("DELETE /v1/ai/streams/{id}", g.handleCancel)
	mux.HandleFunc("GET /v1/conversations", g.withUser(g.handleListConversations))
	mux.HandleFunc("POST /v1/conversations", g.withUser(g.handleNewConversation))
	mux.HandleFunc("GET /v1/conversations/{id}/messages", g.withUser(g.handleListMessages))
	mux.HandleFunc("PATCH /v1/conversations/{id}", g.withUser(g.handleUpdateConversation))
	mux.HandleFunc("DELETE /v1/conversations/{id}", g.withUser(g.handleDeleteConversation))
	mux.HandleFunc("GET /v1/memory", g.withUser(g.handleGetMemory))
	mux.HandleFunc("PUT /v1/memory", g.withUser(g.handlePutMemory))
	mux.HandleFunc("GET /v1/health", g.handleHealth)
	return mux
}

type userHandler func(w http.ResponseWriter, r *http.Request, uid string)

func (g *Gateway) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		if uid == "" {
			httpx.Failure(w, http.StatusUnauthorized, httpx.CodeAuthRequired, "Unauthorized")
			return
		}
		next(w, r, uid)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "api-core",
		"active":  len(g.ActiveStreams()),
	})
}

func (g *Gateway) internalError(w http.ResponseWriter, event string, err error) {
	g.logger.Error(event, "error", err.Error())
	httpx.Failure(w, http.StatusInternalServerError, httpx.CodeInternal, "Internal server error")
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request, uid string) {
	convs, err := g.conversations.ListConversations(r.Context(), uid)
	if err != nil {
		g.internalError(w, "gateway.conversations.list_failed", err)
		return
	}
	if convs == nil {
		convs = []core.Conversation{}
	}
	httpx.Success(w, convs)
}

// NewConversationRequest is the body of POST /v1/conversations.
type NewConversationRequest struct {
	Title          string `json:"title,omitempty"`
	InitialContent string `json:"initial_content,omitempty"`
}

// handleNewConversation creates a conversation, optionally seeded with an
// assistant message.
func (g *Gateway) handleNewConversation(w http.ResponseWriter, r *http.Request, uid string) {
	var body NewConversationRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r.Body, g.maxBodyBytes, &body); err != nil {
			httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
			return
		}
	}

	title := body.Title
	if title == "" {
		title = Title(body.InitialContent)
	}
	conv, err := g.conversations.CreateConversation(r.Context(), uid, title)
	if err != nil {
		g.internalError(w, "gateway.conversations.create_failed", err)
		return
	}
	if body.InitialContent != "" {
		if _, err := g.conversations.AppendMessage(r.Context(), core.StoredMessage{
			ConversationID: conv.ID,
			Role:           core.RoleAssistant,
			Content:        body.InitialContent,
		}); err != nil {
			g.internalError(w, "gateway.conversations.seed_failed", err)
			return
		}
	}
	httpx.Success(w, map[string]string{"conversation_id": conv.ID})
}

// MessageView is a stored message as returned to clients, with the tool
// calls lifted out of the metadata.
type MessageView struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           core.Role       `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      []core.ToolCall `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newMessageView(m core.StoredMessage) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.Metadata != nil {
		v.ToolCalls = m.Metadata.ToolCalls
	}
	return v
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request, uid string) {
	conv, err := g.ownedConversation(r.Context(), uid, r.PathValue("id"))
	if errors.Is(err, errConversationNotFound) || (err == nil && conv == nil) {
		httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.internalError(w, "gateway.messages.list_failed", err)
		return
	}

	msgs, err := g.conversations.ListMessages(r.Context(), conv.ID)
	if err != nil {
		g.internalError(w, "gateway.messages.list_failed", err)
		return
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, newMessageView(m))
	}
	httpx.Success(w, views)
}

// UpdateConversationRequest is the body of PATCH /v1/conversations/{id}.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

func (g *Gateway) handleUpdateConversation(w http.ResponseWriter, r *http.Request, uid string) {
	var body UpdateConversationRequest
	if err := httpx.DecodeJSON(r.Body, g.maxBodyBytes, &body); err != nil {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "Title is required")
		return
	}

	conv, err := g.ownedConversation(r.Context(), uid, r.PathValue("id"))
	if errors.Is(err, errConversationNotFound) || (err == nil && conv == nil) {
		httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.internalError(w, "gateway.conversations.update_failed", err)
		return
	}

	updated, err := g.conversations.UpdateConversationTitle(r.Context(), conv.ID, title)
	if errors.Is(err, core.ErrNotFound) {
		httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.internalError(w, "gateway.conversations.update_failed", err)
		return
	}
	httpx.Success(w, updated)
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request, uid string) {
	conv, err := g.ownedConversation(r.Context(), uid, r.PathValue("id"))
	if errors.Is(err, errConversationNotFound) || (err == nil && conv == nil) {
		httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.internalError(w, "gateway.conversations.delete_failed", err)
		return
	}
	if err := g.conversations.DeleteConversation(r.Context(), conv.ID); err != nil {
		g.internalError(w, "gateway.conversations.delete_failed", err)
		return
	}
	httpx.Success(w, map[string]string{"id": conv.ID})
}

// MemoryView is the long-term memory resource.
type MemoryView struct {
	Content            string     `json:"content"`
	LastConsolidatedAt *time.Time `json:"last_consolidated_at"`
}

func (g *Gateway) handleGetMemory(w http.ResponseWriter, r *http.Request, uid string) {
	if g.memory == nil {
		httpx.Success(w, MemoryView{})
		return
	}
	mem, err := g.memory.GetMemory(r.Context(), uid)
	switch {
	case errors.Is(err, core.ErrNotFound):
		httpx.Success(w, MemoryView{})
	case err != nil:
		g.internalError(w, "gateway.memory.get_failed", err)
	default:
		httpx.Success(w, MemoryView{Content: mem.Content, LastConsolidatedAt: mem.LastConsolidatedAt})
	}
}

// handlePutMemory overwrites the profile. A manual edit does not count as a
// consolidation.
func (g *Gateway) handlePutMemory(w http.ResponseWriter, r *http.Request, uid string) {
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := httpx.DecodeJSON(r.Body, g.maxBodyBytes, &body); err != nil {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	content := gjson.ParseBytes(body.Content)
	if len(body.Content) == 0 || content.Type != gjson.String {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "Content must be a string")
		return
	}
	if g.memory == nil {
		httpx.Failure(w, http.StatusServiceUnavailable, httpx.CodeInternal, "Memory store not configured")
		return
	}

	mem, err := g.memory.UpsertMemory(r.Context(), uid, content.String(), false)
	if err != nil {
		g.internalError(w, "gateway.memory.put_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.SuccessResponse{
		Success: true,
		Data:    MemoryView{Content: mem.Content, LastConsolidatedAt: mem.LastConsolidatedAt},
		Message: "Memory updated",
	})
}
