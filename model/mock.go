package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/lumen/core"
)

// ErrScriptExhausted is returned by MockClient when no scripted turn is left.
var ErrScriptExhausted = errors.New("mock: no scripted turn left")

// Turn scripts one Stream call of a MockClient.
type Turn struct {
	Chunks    []string        // text deltas, emitted in order
	ToolCalls []core.ToolCall // emitted after the chunks
	Err       error           // returned after the deltas
	Delay     time.Duration   // wait before the first delta (honors ctx)
}

// MockClient is an in-memory Client that replays scripted turns. Each Stream
// call consumes the next turn. Copies returned by BindTools share the script.
type MockClient struct {
	state *mockState
	tools []core.ToolDefinition
	info  Info
}

type mockState struct {
	mu       sync.Mutex
	turns    []Turn
	fallback func(msgs []core.Message) Turn
	requests []Request
}

// Request records one Stream invocation.
type Request struct {
	Messages []core.Message
	Tools    []core.ToolDefinition
}

// NewMockClient constructs a MockClient replaying turns.
func NewMockClient(turns ...Turn) *MockClient {
	return &MockClient{
		state: &mockState{turns: turns},
		info:  Info{Name: "mock", Provider: "mock", SupportsTools: true},
	}
}

// WithFallback sets the responder used once the script is exhausted.
func (m *MockClient) WithFallback(fn func(msgs []core.Message) Turn) *MockClient {
	m.state.mu.Lock()
	m.state.fallback = fn
	m.state.mu.Unlock()
	return m
}

// Requests returns a snapshot of every Stream invocation so far.
func (m *MockClient) Requests() []Request {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return append([]Request(nil), m.state.requests...)
}

// BindTools implements Client.
func (m *MockClient) BindTools(defs []core.ToolDefinition) Client {
	cp := *m
	cp.tools = defs
	return &cp
}

// Info implements Client.
func (m *MockClient) Info() Info { return m.info }

// Stream implements Client.
func (m *MockClient) Stream(ctx context.Context, msgs []core.Message) (<-chan Delta, <-chan error) {
	out := make(chan Delta, 16)
	errCh := make(chan error, 1)

	turn, ok := m.next(msgs)

	go func() {
		defer close(out)
		defer close(errCh)

		if !ok {
			errCh <- ErrScriptExhausted
			return
		}
		if turn.Delay > 0 {
			t := time.NewTimer(turn.Delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-t.C:
			}
		}
		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Delta{Text: c}:
			}
		}
		if len(turn.ToolCalls) > 0 {
			calls := make([]core.ToolCall, len(turn.ToolCalls))
			copy(calls, turn.ToolCalls)
			out <- Delta{ToolCalls: calls}
		}
		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return out, errCh
}

func (m *MockClient) next(msgs []core.Message) (Turn, bool) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	m.state.requests = append(m.state.requests, Request{
		Messages: append([]core.Message(nil), msgs...),
		Tools:    m.tools,
	})
	if len(m.state.turns) > 0 {
		t := m.state.turns[0]
		m.state.turns = m.state.turns[1:]
		return t, true
	}
	if m.state.fallback != nil {
		return m.state.fallback(msgs), true
	}
	return Turn{}, false
}
