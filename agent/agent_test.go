package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/internal/testutil"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/model"
	"github.com/hupe1980/lumen/tool"
	"github.com/hupe1980/lumen/tool/builtin"
)

type recorder struct {
	mu     sync.Mutex
	events []core.StreamEvent
}

func (r *recorder) sink(ev core.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []core.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind()
	}
	return out
}

func (r *recorder) find(kind core.EventKind) []core.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.StreamEvent
	for _, ev := range r.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func builtinRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	builtin.Register(reg)
	return reg
}

func call(id, name, args string, offset int) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Args: json.RawMessage(args), Offset: offset}
}

func TestRun_DirectAnswer(t *testing.T) {
	client := model.NewMockClient(model.Turn{Chunks: []string{"Hel", "lo"}})
	a := New(client, builtinRegistry())

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{CurrentMessage: "Hi"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, []core.EventKind{
		core.KindTurnStart, core.KindChunk, core.KindChunk, core.KindAgentComplete,
	}, rec.kinds())
	assert.Equal(t, core.AgentCompleteEvent{TotalTurns: 1}, rec.find(core.KindAgentComplete)[0])
	assert.Equal(t, "Hello", out.Text)
	assert.Equal(t, 1, out.Turns)
	assert.True(t, out.Completed)
	assert.Nil(t, out.Consolidation)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Tools, 4)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.NotContains(t, msgs[0].Content, "Long-term Memory")
	assert.Equal(t, core.NewUserMessage("Hi"), msgs[1])
}

func TestRun_ToolRoundTrip(t *testing.T) {
	client := model.NewMockClient(
		model.Turn{
			Chunks:    []string{"Let me compute."},
			ToolCalls: []core.ToolCall{call("call_1", "calculator", `{"expression":"2+2"}`, 15)},
		},
		model.Turn{Chunks: []string{" It is 4."}},
	)
	a := New(client, builtinRegistry())

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{CurrentMessage: "2+2?"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, []core.EventKind{
		core.KindTurnStart, core.KindChunk, core.KindToolCall, core.KindToolResult,
		core.KindTurnStart, core.KindChunk, core.KindAgentComplete,
	}, rec.kinds())

	tc := rec.find(core.KindToolCall)[0].(core.ToolCallEvent)
	tr := rec.find(core.KindToolResult)[0].(core.ToolResultEvent)
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, tc.ID, tr.ID)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(tc.Args))
	assert.Equal(t, "2+2 = 4", tr.Result)
	assert.False(t, tr.IsError)

	assert.Equal(t, "Let me compute. It is 4.", out.Text)
	assert.Equal(t, 2, out.Turns)
	require.Len(t, out.ToolCalls, 1)
	assert.True(t, out.ToolCalls[0].Resolved())
	assert.Equal(t, 15, out.ToolCalls[0].Offset)

	// Second model call sees the assistant call and the tool result.
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, core.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, core.NewToolMessage("call_1", "calculator", "2+2 = 4"), msgs[3])
}

func TestRun_MultipleCallsSequentialAndOffsets(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	reg := tool.NewRegistry()
	for _, name := range []string{"first", "second"} {
		name := name
		reg.Register(tool.NewFunctionTool(name, name, nil, func(context.Context, map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name + " done", nil
		}))
	}

	client := model.NewMockClient(
		model.Turn{Chunks: []string{"abc"}, ToolCalls: []core.ToolCall{
			call("a", "first", `{}`, 3),
			call("b", "second", ``, 3),
		}},
		model.Turn{Chunks: []string{"de"}, ToolCalls: []core.ToolCall{call("", "first", `{}`, 2)}},
		model.Turn{Chunks: []string{"!"}},
	)
	a := New(client, reg)

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{CurrentMessage: "go"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "first"}, order)
	require.Len(t, out.ToolCalls, 3)
	assert.Equal(t, 3, out.ToolCalls[0].Offset)
	assert.Equal(t, 3, out.ToolCalls[1].Offset)
	assert.Equal(t, 5, out.ToolCalls[2].Offset)
	assert.JSONEq(t, `{}`, string(out.ToolCalls[1].Args))
	assert.NotEmpty(t, out.ToolCalls[2].ID)

	// Every tool_call precedes its tool_result with the same id.
	pending := map[string]bool{}
	for _, ev := range rec.events {
		switch e := ev.(type) {
		case core.ToolCallEvent:
			pending[e.ID] = true
		case core.ToolResultEvent:
			assert.True(t, pending[e.ID], e.ID)
			delete(pending, e.ID)
		}
	}
	assert.Empty(t, pending)
}

func TestRun_TurnCeiling(t *testing.T) {
	client := model.NewMockClient().WithFallback(func([]core.Message) model.Turn {
		return model.Turn{Chunks: []string{"."}, ToolCalls: []core.ToolCall{call("", "calculator", `{"expression":"1+1"}`, 1)}}
	})
	a := New(client, builtinRegistry())

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{CurrentMessage: "loop"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxTurns, out.Turns)
	assert.False(t, out.Completed)
	assert.Len(t, rec.find(core.KindTurnStart), DefaultMaxTurns)
	assert.Empty(t, rec.find(core.KindAgentComplete))
	assert.Len(t, client.Requests(), DefaultMaxTurns)
	assert.Len(t, out.ToolCalls, DefaultMaxTurns)
}

func TestRun_NonPositiveMaxTurnsUsesDefault(t *testing.T) {
	for _, maxTurns := range []int{0, -1} {
		client := model.NewMockClient().WithFallback(func([]core.Message) model.Turn {
			return model.Turn{ToolCalls: []core.ToolCall{call("", "calculator", `{"expression":"1+1"}`, 0)}}
		})
		a := New(client, builtinRegistry(), func(o *Options) { o.MaxTurns = maxTurns })

		out, err := a.Run(context.Background(), Request{CurrentMessage: "loop"}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxTurns, out.Turns, "max_turns=%d", maxTurns)
		assert.Len(t, client.Requests(), DefaultMaxTurns, "max_turns=%d", maxTurns)
	}
}

func TestRun_MalformedToolArgsBecomeErrorResult(t *testing.T) {
	client := model.NewMockClient(
		model.Turn{ToolCalls: []core.ToolCall{call("t1", "calculator", `{"expression": "2+`, 0)}},
		model.Turn{Chunks: []string{"Let me retry."}},
	)
	a := New(client, builtinRegistry())

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{CurrentMessage: "2+2?"}, rec.sink)
	require.NoError(t, err)
	assert.True(t, out.Completed)

	assert.Equal(t, []core.EventKind{
		core.KindTurnStart, core.KindToolCall, core.KindToolResult,
		core.KindTurnStart, core.KindChunk, core.KindAgentComplete,
	}, rec.kinds())

	tc := rec.find(core.KindToolCall)[0].(core.ToolCallEvent)
	assert.JSONEq(t, `"{\"expression\": \"2+"`, string(tc.Args))
	_, err = core.MarshalEvent(tc)
	require.NoError(t, err)

	tr := rec.find(core.KindToolResult)[0].(core.ToolResultEvent)
	assert.Equal(t, "t1", tr.ID)
	assert.True(t, tr.IsError)
	assert.Equal(t, `Error executing tool calculator: invalid arguments: {"expression": "2+`, tr.Result)
	assert.Len(t, client.Requests(), 2)
}

func TestNormalizeArgs(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{``, `{}`},
		{`null`, `{}`},
		{` {"a":1} `, ` {"a":1} `},
		{`{"a":`, `"{\"a\":"`},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, string(normalizeArgs(json.RawMessage(c.in))), "in=%q", c.in)
	}
	assert.False(t, isObject(json.RawMessage(`"x"`)))
	assert.True(t, isObject(json.RawMessage(` {}`)))
}

func TestRun_ToolFailuresDoNotAbort(t *testing.T) {
	reg := builtinRegistry()
	reg.Register(tool.NewFunctionTool("explode", "panics", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	}))
	reg.Register(tool.NewFunctionTool("fail", "fails", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk full")
	}))

	client := model.NewMockClient(
		model.Turn{ToolCalls: []core.ToolCall{
			call("1", "explode", `{}`, 0),
			call("2", "fail", `{}`, 0),
			call("3", "nope", `{}`, 0),
			call("4", "calculator", `{"expression":"2 +"}`, 0),
		}},
		model.Turn{Chunks: []string{"Sorry."}},
	)
	a := New(client, reg)

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{CurrentMessage: "x"}, rec.sink)
	require.NoError(t, err)
	assert.True(t, out.Completed)

	results := rec.find(core.KindToolResult)
	require.Len(t, results, 4)
	for _, ev := range results {
		assert.True(t, ev.(core.ToolResultEvent).IsError)
	}
	assert.True(t, strings.HasPrefix(results[0].(core.ToolResultEvent).Result, "Error executing tool explode: "))
	assert.Equal(t, "Error executing tool fail: disk full", results[1].(core.ToolResultEvent).Result)
	assert.True(t, strings.HasPrefix(results[2].(core.ToolResultEvent).Result, "Error executing tool nope: "))
	assert.Equal(t, "Unable to evaluate expression: 2 +", results[3].(core.ToolResultEvent).Result)
}

func TestRun_ModelError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind model.ErrorKind
	}{
		{"generic", errors.New("connection reset"), model.KindGeneric},
		{"auth", &model.Error{Provider: "mock", Kind: model.KindAuth, StatusCode: 401, Err: errors.New("bad key")}, model.KindAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := model.NewMockClient(model.Turn{Chunks: []string{"par"}, Err: tc.err})
			a := New(client, nil)

			rec := &recorder{}
			out, err := a.Run(context.Background(), Request{CurrentMessage: "x"}, rec.sink)
			require.Error(t, err)
			assert.Equal(t, tc.kind, model.KindOf(err))
			assert.Equal(t, "par", out.Text)
			assert.Empty(t, rec.find(core.KindAgentComplete))
		})
	}
}

func TestRun_ModelTimeout(t *testing.T) {
	client := model.NewMockClient(model.Turn{Delay: time.Second, Chunks: []string{"late"}})
	a := New(client, nil, func(o *Options) { o.ModelTimeout = 20 * time.Millisecond })

	_, err := a.Run(context.Background(), Request{CurrentMessage: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, model.KindTimeout, model.KindOf(err))
	assert.Equal(t, "LLM_TIMEOUT", model.KindOf(err).Code())
}

func TestRun_CallerCancellation(t *testing.T) {
	client := model.NewMockClient(model.Turn{Delay: time.Second})
	a := New(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Run(ctx, Request{CurrentMessage: "x"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_MemoryAndHistoryInjection(t *testing.T) {
	client := model.NewMockClient(model.Turn{Chunks: []string{"ok"}})
	a := New(client, nil, func(o *Options) { o.Instruction = NewInstructionFromText("Base prompt.") })

	history := []core.Message{
		{Role: core.RoleUser, Content: "u1"},
		{Role: core.RoleAssistant, Content: "a1"},
		{Role: core.Role("moderator"), Content: "m1"},
	}
	_, err := a.Run(context.Background(), Request{
		History:        history,
		CurrentMessage: "now",
		LongTermMemory: "Name: Ada",
	}, nil)
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)

	msgs := reqs[0].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "Base prompt.\n\n## Long-term Memory\nName: Ada", msgs[0].Content)
	assert.Equal(t, core.RoleUser, msgs[3].Role)
	assert.Equal(t, "m1", msgs[3].Content)
	assert.Equal(t, core.NewUserMessage("now"), msgs[4])
}

func TestRun_SinkErrorAborts(t *testing.T) {
	client := model.NewMockClient(model.Turn{Chunks: []string{"a", "b"}})
	a := New(client, nil)

	stop := errors.New("client gone")
	_, err := a.Run(context.Background(), Request{CurrentMessage: "x"}, func(ev core.StreamEvent) error {
		if ev.Kind() == core.KindChunk {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
}

func TestRun_ConsolidationTriggered(t *testing.T) {
	client := model.NewMockClient(
		model.Turn{Chunks: []string{"answer"}},
		model.Turn{Chunks: []string{`{"memory_update":"Likes Go","history_entry":"Talked about Go"}`}},
	)
	a := New(client, builtinRegistry(), func(o *Options) { o.Consolidator = memory.NewConsolidator() })

	rec := &recorder{}
	out, err := a.Run(context.Background(), Request{History: testutil.History(19), CurrentMessage: "x"}, rec.sink)
	require.NoError(t, err)
	require.NotNil(t, out.Consolidation)

	res, err := out.Consolidation.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.ConsolidationResult{MemoryUpdate: "Likes Go", HistoryEntry: "Talked about Go"}, res)

	events := rec.find(core.KindMemoryConsolidation)
	require.Len(t, events, 1)
	assert.Equal(t, res, events[0].(core.MemoryConsolidationEvent).Result)

	// The consolidation call uses the unbound client.
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Tools)
	assert.Empty(t, reqs[1].Tools)
}

func TestRun_ConsolidationNotTriggeredBelowWindow(t *testing.T) {
	client := model.NewMockClient(model.Turn{Chunks: []string{"answer"}})
	a := New(client, nil, func(o *Options) { o.Consolidator = memory.NewConsolidator() })

	out, err := a.Run(context.Background(), Request{History: testutil.History(18), CurrentMessage: "x"}, nil)
	require.NoError(t, err)
	assert.Nil(t, out.Consolidation)
	assert.Len(t, client.Requests(), 1)
}

func TestRun_ConsolidationSkippedOnModelError(t *testing.T) {
	client := model.NewMockClient(model.Turn{Err: errors.New("down")})
	a := New(client, nil, func(o *Options) { o.Consolidator = memory.NewConsolidator() })

	out, err := a.Run(context.Background(), Request{History: testutil.History(30), CurrentMessage: "x"}, nil)
	require.Error(t, err)
	assert.Nil(t, out.Consolidation)
}

func TestStream(t *testing.T) {
	client := model.NewMockClient(
		model.Turn{ToolCalls: []core.ToolCall{call("c", "unit_converter", `{"value":5,"from_unit":"km","to_unit":"mile"}`, 0)}},
		model.Turn{Chunks: []string{"done"}},
	)
	a := New(client, builtinRegistry())

	events, errs := a.Stream(context.Background(), Request{CurrentMessage: "convert"})
	var kinds []core.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind())
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []core.EventKind{
		core.KindTurnStart, core.KindToolCall, core.KindToolResult,
		core.KindTurnStart, core.KindChunk, core.KindAgentComplete,
	}, kinds)
}
