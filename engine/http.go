package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/lumen/agent"
	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/internal/httpx"
	"github.com/hupe1980/lumen/model"
	"github.com/hupe1980/lumen/model/provider"
)

// Client-facing messages of the terminal error frame, by failure kind.
const (
	MessageInvalidAPIKey = "Invalid API key provided"
	MessageTimeout       = "LLM service timeout"
	MessageServiceError  = "LLM service error"
)

// HistoryMessage is one prior conversation message of a stream request.
type HistoryMessage struct {
	Role    core.Role `json:"role"`
	Content string    `json:"content"`
}

// StreamRequest is the body of POST /v1/ai/stream.
type StreamRequest struct {
	History        []HistoryMessage `json:"history"`
	CurrentMessage string           `json:"current_message"`
	LongTermMemory string           `json:"long_term_memory,omitempty"`
	Config         *provider.Config `json:"config,omitempty"`
}

// Validate checks the request shape.
func (r *StreamRequest) Validate() error {
	if strings.TrimSpace(r.CurrentMessage) == "" {
		return errors.New("current_message is required and must be a non-empty string")
	}
	for _, m := range r.History {
		if !m.Role.Valid() {
			return errors.New("invalid message format in history")
		}
	}
	return nil
}

// AgentRequest converts the body to the agent input.
func (r *StreamRequest) AgentRequest() agent.Request {
	history := make([]core.Message, 0, len(r.History))
	for _, m := range r.History {
		history = append(history, core.Message{Role: m.Role, Content: m.Content})
	}
	return agent.Request{
		History:        history,
		CurrentMessage: r.CurrentMessage,
		LongTermMemory: r.LongTermMemory,
	}
}

// ErrorMessage maps a loop failure to its client-facing message.
func ErrorMessage(err error) string {
	switch model.KindOf(err) {
	case model.KindAuth:
		return MessageInvalidAPIKey
	case model.KindTimeout:
		return MessageTimeout
	default:
		return MessageServiceError
	}
}

// Handler returns the HTTP API of the engine.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ai/stream", e.handleStream)
	mux.HandleFunc("DELETE /v1/ai/invocations/{id}", e.handleCancel)
	mux.HandleFunc("GET /v1/health", e.handleHealth)
	return mux
}

func (e *Engine) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ai-engine",
		"active":  len(e.ActiveInvocations()),
		"tools":   e.registry.Names(),
	})
}

func (e *Engine) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := e.Cancel(r.PathValue("id")); err != nil {
		httpx.Failure(w, http.StatusNotFound, httpx.CodeNotFound, "Invocation not found")
		return
	}
	httpx.Success(w, map[string]string{"id": r.PathValue("id")})
}

func (e *Engine) handleStream(w http.ResponseWriter, r *http.Request) {
	var body StreamRequest
	if err := httpx.DecodeJSON(r.Body, e.config.MaxBodyBytes, &body); err != nil {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	if err := body.Validate(); err != nil {
		httpx.Failure(w, http.StatusBadRequest, httpx.CodeInvalidRequest, err.Error())
		return
	}
	if body.Config != nil {
		if err := e.model.Merge(body.Config).Validate(); err != nil {
			httpx.Failure(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
			return
		}
	}

	stream := httpx.NewSSEWriter(w)
	defer stream.Close()

	// memory_consolidation frames are held until the terminal frame is out.
	terminated := make(chan struct{})
	var terminateOnce sync.Once
	terminate := func() { terminateOnce.Do(func() { close(terminated) }) }
	defer terminate()

	sink := func(ev core.StreamEvent) error {
		if _, ok := ev.(core.MemoryConsolidationEvent); ok {
			<-terminated
		}
		return stream.Send(ev)
	}

	invocationID := r.Header.Get("X-Request-ID")
	if invocationID == "" {
		invocationID = uuid.NewString()
	}
	w.Header().Set("X-Invocation-ID", invocationID)

	req := body.AgentRequest()
	inv, err := e.Invoke(r.Context(), invocationID, req, body.Config, sink)
	switch {
	case errors.Is(err, ErrBusy):
		httpx.Failure(w, http.StatusServiceUnavailable, httpx.CodeBusy, "Too many concurrent requests")
		return
	case errors.Is(err, ErrNoModel):
		httpx.Failure(w, http.StatusBadRequest, "INVALID_CONFIG", "no model configured")
		return
	case err != nil:
		httpx.Failure(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	stream.Start()

	outcome, runErr := inv.Wait()
	cbCtx := &CallbackContext{InvocationID: inv.ID, Request: &req, Outcome: outcome, Err: runErr}

	if runErr != nil {
		if r.Context().Err() != nil && errors.Is(runErr, r.Context().Err()) {
			e.logger.Info("engine.client.disconnected", "invocation_id", inv.ID)
			return
		}
		if errors.Is(runErr, context.Canceled) {
			e.logger.Info("engine.invocation.cancelled", "invocation_id", inv.ID)
		}
		_ = stream.Send(core.ErrorEvent{Message: ErrorMessage(runErr)})
		terminate()
		e.logger.Error("engine.invocation.error_frame",
			"invocation_id", inv.ID,
			"code", model.KindOf(runErr).Code(),
			"error", runErr.Error(),
		)
		if err := e.callbacks.ExecuteCallbacks(r.Context(), CallbackOnError, cbCtx); err != nil {
			e.logger.Warn("engine.callback.failed", "invocation_id", inv.ID, "error", err.Error())
		}
		return
	}

	err = stream.Send(core.EndEvent{})
	terminate()
	if err != nil {
		return
	}
	if err := e.callbacks.ExecuteCallbacks(r.Context(), CallbackAfterInvocation, cbCtx); err != nil {
		e.logger.Warn("engine.callback.failed", "invocation_id", inv.ID, "error", err.Error())
	}

	e.awaitConsolidation(r.Context(), inv.ID, outcome)
}

// awaitConsolidation keeps the response open until the consolidation
// delivered its frame, the grace period elapsed or the client left.
func (e *Engine) awaitConsolidation(ctx context.Context, invocationID string, outcome *agent.Outcome) {
	if outcome == nil || outcome.Consolidation == nil || e.config.ConsolidationGrace <= 0 {
		return
	}
	t := time.NewTimer(e.config.ConsolidationGrace)
	defer t.Stop()
	select {
	case <-outcome.Consolidation.Done():
	case <-t.C:
		e.logger.Warn("engine.consolidation.grace_exceeded", "invocation_id", invocationID)
	case <-ctx.Done():
	}
}
