package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/engine"
	"github.com/hupe1980/lumen/internal/httpx"
	"github.com/hupe1980/lumen/model/provider"
	"github.com/hupe1980/lumen/relay"
)

// HeaderUserID carries the authenticated user id. Authentication itself
// happens in front of the gateway.
const HeaderUserID = "X-User-ID"

var errConversationNotFound = errors.New("conversation not found")

// StreamRequest is the body of POST /v1/ai/stream.
type StreamRequest struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	CurrentMessage string           `json:"current_message"`
	Ephemeral      bool             `json:"ephemeral,omitempty"`
	Config         *provider.Config `json:"config,omitempty"`
}

// prepared is the persisted state of a non-ephemeral request.
type prepared struct {
	conversation *core.Conversation
	userMessage  *core.StoredMessage
	history      []core.StoredMessage
	memory       string
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.Failure(w, http.StatusUnauthorized, httpx.CodeAuthRequired, "Unauthorized")
		return
	}

	var body StreamRequest
	if err := httpx.DecodeJSON(r.Body, g.maxBodyBytes, &body); err != nil {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.CurrentMessage) == "" {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "current_message is required and must be a string")
		return
	}

	upstreamReq := engine.StreamRequest{
		History:        []engine.HistoryMessage{},
		CurrentMessage: body.CurrentMessage,
		Config:         body.Config,
	}
	sess := relay.Session{UserID: uid, Ephemeral: body.Ephemeral}

	var prep *prepared
	if !body.Ephemeral {
		var err error
		prep, err = g.prepare(r.Context(), uid, body)
		switch {
		case errors.Is(err, errConversationNotFound):
			httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Conversation not found")
			return
		case err != nil:
			g.logger.Error("gateway.stream.prepare_failed", "user_id", uid, "error", err.Error())
			httpx.Failure(w, http.StatusInternalServerError, httpx.CodeInternal, "Internal server error")
			return
		}
		sess.ConversationID = prep.conversation.ID
		upstreamReq.LongTermMemory = prep.memory
		for _, m := range prep.history {
			upstreamReq.History = append(upstreamReq.History, engine.HistoryMessage{Role: m.Role, Content: m.Content})
		}
	}

	streamID := r.Header.Get("X-Request-ID")
	if streamID == "" {
		streamID = uuid.NewString()
	}
	w.Header().Set("X-Stream-ID", streamID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	untrack := g.track(uid, streamID, cancel)
	defer untrack()

	stream := httpx.NewSSEWriter(w)
	defer stream.Close()
	stream.Start()

	if prep != nil {
		if err := stream.Send(core.StartEvent{
			ConversationID: prep.conversation.ID,
			UserMessageID:  prep.userMessage.ID,
		}); err != nil {
			return
		}
	}

	log := g.requestLogger(sess.ConversationID, streamID)
	log.Info("gateway.stream.start",
		"user_id", uid,
		"ephemeral", sess.Ephemeral,
		"history", len(upstreamReq.History),
	)

	// The upstream request outlives the handler: after the terminal frame the
	// relay keeps draining it for a late memory consolidation. Until then a
	// cancelled stream aborts it.
	upstreamCtx, upstreamCancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, upstreamCancel)

	resp, err := g.callEngine(upstreamCtx, streamID, upstreamReq)
	if err != nil {
		upstreamCancel()
		log.Error("gateway.engine.unavailable", "error", err.Error())
		_ = stream.Send(core.ErrorEvent{Message: MessageServiceUnavailable})
		return
	}
	if resp.StatusCode != http.StatusOK {
		msg := upstreamError(resp)
		_ = resp.Body.Close()
		upstreamCancel()
		log.Error("gateway.engine.rejected", "status", resp.StatusCode, "message", msg)
		_ = stream.Send(core.ErrorEvent{Message: msg})
		return
	}

	upstream := &cancelOnClose{ReadCloser: resp.Body, cancel: upstreamCancel}
	res, err := g.relay.Run(ctx, sess, upstream, stream)
	stop()
	if err != nil {
		log.Warn("gateway.stream.abandoned", "error", err.Error())
		return
	}
	log.Info("gateway.stream.done",
		"terminal", string(res.Terminal),
		"frames", res.Forwarded,
		"tool_calls", len(res.ToolCalls),
		"message_id", res.MessageID,
	)
}

// prepare resolves the conversation and records the user message. History
// is loaded before the new message is appended so it is not sent twice.
func (g *Gateway) prepare(ctx context.Context, uid string, body StreamRequest) (*prepared, error) {
	conv, err := g.ownedConversation(ctx, uid, body.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		conv, err = g.conversations.CreateConversation(ctx, uid, Title(body.CurrentMessage))
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}

	history, err := g.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	userMsg, err := g.conversations.AppendMessage(ctx, core.StoredMessage{
		ConversationID: conv.ID,
		Role:           core.RoleUser,
		Content:        body.CurrentMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	return &prepared{
		conversation: conv,
		userMessage:  userMsg,
		history:      history,
		memory:       g.loadMemory(ctx, uid),
	}, nil
}

// ownedConversation returns the conversation when it belongs to uid, nil
// for an empty id and errConversationNotFound otherwise.
func (g *Gateway) ownedConversation(ctx context.Context, uid, id string) (*core.Conversation, error) {
	if id == "" {
		return nil, nil
	}
	conv, err := g.conversations.GetConversation(ctx, id)
	if errors.Is(err, core.ErrNotFound) || (err == nil && conv.UserID != uid) {
		return nil, errConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// loadMemory returns the user's profile; a failure degrades to no memory.
func (g *Gateway) loadMemory(ctx context.Context, uid string) string {
	if g.memory == nil {
		return ""
	}
	mem, err := g.memory.GetMemory(ctx, uid)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			g.logger.Warn("gateway.memory.load_failed", "user_id", uid, "error", err.Error())
		}
		return ""
	}
	return mem.Content
}

func (g *Gateway) callEngine(ctx context.Context, streamID string, body engine.StreamRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.engineURL+"/v1/ai/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", streamID)
	return g.client.Do(req)
}

// cancelOnClose releases the upstream request context with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// upstreamError extracts the message of an engine error envelope.
func upstreamError(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || !gjson.ValidBytes(b) {
		return MessageServiceUnavailable
	}
	if msg := gjson.GetBytes(b, "error.message"); msg.Type == gjson.String && msg.String() != "" {
		return msg.String()
	}
	return MessageServiceUnavailable
}

func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.Failure(w, http.StatusUnauthorized, httpx.CodeAuthRequired, "Unauthorized")
		return
	}
	if err := g.Cancel(uid, r.PathValue("id")); err != nil {
		httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Stream not found")
		return
	}
	httpx.Success(w, map[string]string{"id": r.PathValue("id")})
}
