package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/model"
	"github.com/hupe1980/lumen/tool"
)

// DefaultMaxTurns is the reasoning turn ceiling per request.
const DefaultMaxTurns = 10

// DefaultSystemPrompt is the base instruction of the assistant.
const DefaultSystemPrompt = `You are Lumen AI Assistant, an assistant that can call tools on its own.
When the user's question needs external information, a calculation or another specific capability, use the tools proactively and answer accurately based on their results.
If no tool is needed, answer directly.`

// Sink receives the events of a run. A returned error aborts the run.
type Sink func(ev core.StreamEvent) error

// Request is the input of one run.
type Request struct {
	History        []core.Message
	CurrentMessage string
	LongTermMemory string
}

// Outcome summarizes a finished run.
type Outcome struct {
	// Text is the concatenation of every chunk across all turns.
	Text string
	// Turns is the number of model turns started.
	Turns int
	// Completed is false when the turn ceiling ended the loop.
	Completed bool
	// ToolCalls lists every executed call in order. Offsets are relative to Text.
	ToolCalls []core.ToolCall
	// Consolidation is the detached memory consolidation, or nil.
	Consolidation *memory.Task
}

// Options configures an Agent.
type Options struct {
	MaxTurns             int
	Instruction          Instruction
	ModelTimeout         time.Duration // per model turn; 0 disables
	ToolTimeout          time.Duration // per tool call; 0 disables
	Consolidator         *memory.Consolidator
	ConsolidationTimeout time.Duration
	Logger               logging.Logger
	Clock                func() time.Time
}

// Agent runs the reasoning loop against a model client and a tool registry.
// It holds no per-request state and is safe for concurrent use.
type Agent struct {
	client   model.Client
	registry *tool.Registry
	opts     Options
}

// New creates an Agent. registry may be nil for a tool-less assistant.
func New(client model.Client, registry *tool.Registry, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxTurns:             DefaultMaxTurns,
		Instruction:          NewInstructionFromText(DefaultSystemPrompt),
		ModelTimeout:         60 * time.Second,
		ToolTimeout:          30 * time.Second,
		ConsolidationTimeout: memory.DefaultTaskTimeout,
		Logger:               logging.NoOpLogger{},
		Clock:                time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if registry == nil {
		registry = tool.NewRegistry()
	}
	return &Agent{client: client, registry: registry, opts: opts}
}

// Run executes the loop for req, reporting events to sink.
//
// A model failure (including a turn exceeding ModelTimeout) aborts the run
// with a *model.Error; tool failures are reported as error results and the
// loop continues. A sink error aborts the run and is returned as is.
func (a *Agent) Run(ctx context.Context, req Request, sink Sink) (*Outcome, error) {
	if sink == nil {
		sink = func(core.StreamEvent) error { return nil }
	}
	log := a.opts.Logger

	messages, err := a.buildMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	client := a.client
	if a.registry.Len() > 0 {
		client = a.client.BindTools(a.registry.Definitions())
	}

	log.Info("agent.run.start", "tools", a.registry.Len(), "history", len(req.History), "model", a.client.Info().Name)

	out := &Outcome{}
	var text strings.Builder
	limiter := core.NewTurnLimiter(a.opts.MaxTurns)

	for {
		turn, err := limiter.Next()
		if errors.Is(err, core.ErrTurnLimit) {
			log.Warn("agent.turn.limit", "max_turns", a.opts.MaxTurns)
			break
		}
		out.Turns = turn

		if err := sink(core.TurnStartEvent{Turn: turn}); err != nil {
			return out, err
		}
		log.Debug("agent.turn.start", "turn", turn)

		turnText, calls, err := a.streamTurn(ctx, client, messages, text.Len(), sink)
		text.WriteString(turnText)
		out.Text = text.String()
		if err != nil {
			return out, err
		}

		messages = append(messages, core.Message{Role: core.RoleAssistant, Content: turnText, ToolCalls: calls})

		if len(calls) == 0 {
			if err := sink(core.AgentCompleteEvent{TotalTurns: turn}); err != nil {
				return out, err
			}
			out.Completed = true
			log.Debug("agent.run.complete", "turns", turn)
			break
		}

		log.Debug("agent.tools.detected", "turn", turn, "count", len(calls))
		for i := range calls {
			call := &calls[i]
			if err := sink(core.ToolCallEvent{ID: call.ID, Name: call.Name, Args: call.Args}); err != nil {
				return out, err
			}

			result, isError := a.executeTool(ctx, *call)
			_ = call.Resolve(result, isError)

			if err := sink(core.ToolResultEvent{ID: call.ID, Name: call.Name, Result: result, IsError: isError}); err != nil {
				return out, err
			}
			messages = append(messages, core.NewToolMessage(call.ID, call.Name, result))
			out.ToolCalls = append(out.ToolCalls, *call)
		}
	}

	out.Consolidation = a.maybeConsolidate(ctx, req, out.Text, sink)
	return out, nil
}

// Stream runs the loop in a goroutine and exposes its events as a channel.
// The event channel is closed once the run and any consolidation finished.
func (a *Agent) Stream(ctx context.Context, req Request) (<-chan core.StreamEvent, <-chan error) {
	events := make(chan core.StreamEvent, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		out, err := a.Run(ctx, req, func(ev core.StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errCh <- err
			return
		}
		if out.Consolidation != nil {
			_, _ = out.Consolidation.Wait(ctx)
		}
	}()

	return events, errCh
}

func (a *Agent) buildMessages(ctx context.Context, req Request) ([]core.Message, error) {
	prompt, err := a.opts.Instruction.Resolve(ctx, req, a.opts.Clock())
	if err != nil {
		return nil, fmt.Errorf("resolve instruction: %w", err)
	}
	if req.LongTermMemory != "" {
		prompt += "\n\n## Long-term Memory\n" + req.LongTermMemory
	}

	messages := make([]core.Message, 0, len(req.History)+2)
	messages = append(messages, core.NewSystemMessage(prompt))
	messages = append(messages, convertHistory(req.History)...)
	messages = append(messages, core.NewUserMessage(req.CurrentMessage))
	return messages, nil
}

// convertHistory keeps role and content only. Roles other than user,
// assistant and system become user.
func convertHistory(history []core.Message) []core.Message {
	out := make([]core.Message, 0, len(history))
	for _, m := range history {
		role := m.Role
		switch role {
		case core.RoleUser, core.RoleAssistant, core.RoleSystem:
		default:
			role = core.RoleUser
		}
		out = append(out, core.Message{Role: role, Content: m.Content})
	}
	return out
}

// streamTurn runs one model invocation. base is the length of the text
// produced by previous turns; tool call offsets are shifted by it.
func (a *Agent) streamTurn(
	ctx context.Context,
	client model.Client,
	messages []core.Message,
	base int,
	sink Sink,
) (string, []core.ToolCall, error) {
	turnCtx := ctx
	if a.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, a.opts.ModelTimeout)
		defer cancel()
	}

	start := time.Now()
	deltas, errs := client.Stream(turnCtx, messages)

	var (
		text    strings.Builder
		calls   []core.ToolCall
		count   int
		sinkErr error
	)
	for d := range deltas {
		count++
		if sinkErr != nil {
			continue
		}
		if d.Text != "" {
			text.WriteString(d.Text)
			sinkErr = sink(core.ChunkEvent{Text: d.Text})
		}
		for _, c := range d.ToolCalls {
			if c.ID == "" {
				c.ID = core.NewID()
			}
			c.Args = normalizeArgs(c.Args)
			c.Offset += base
			c.Result, c.IsError = nil, false
			calls = append(calls, c)
		}
	}
	err := <-errs
	if sl, ok := a.opts.Logger.(*logging.StructuredLogger); ok {
		sl.LogModelCall(client.Info().Name, count, time.Since(start), err == nil, err)
	}
	if sinkErr != nil {
		return text.String(), nil, sinkErr
	}
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return text.String(), nil, ctx.Err()
		}
		return text.String(), nil, model.Classify(client.Info().Provider, 0, err)
	}
	return text.String(), calls, nil
}

// executeTool runs one call and never fails: errors, panics and unknown
// tools are folded into an error result.
func (a *Agent) executeTool(ctx context.Context, call core.ToolCall) (result string, isError bool) {
	toolCtx := ctx
	if a.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, a.opts.ToolTimeout)
		defer cancel()
	}

	if !isObject(call.Args) {
		a.opts.Logger.Warn("agent.tool.invalid_arguments", "tool", call.Name, "tool_call_id", call.ID)
		return fmt.Sprintf("Error executing tool %s: invalid arguments: %s", call.Name, argsText(call.Args)), true
	}

	start := time.Now()
	var (
		res tool.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				a.opts.Logger.Error("agent.tool.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
			}
		}()
		res, err = a.registry.Execute(toolCtx, call.Name, call.Args)
	}()

	if sl, ok := a.opts.Logger.(*logging.StructuredLogger); ok {
		sl.LogToolCall(call.Name, time.Since(start), err == nil && !res.IsError, err)
	} else {
		a.opts.Logger.Info("agent.tool.executed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err != nil || res.IsError,
		)
	}

	if err != nil {
		msg := err.Error()
		var toolErr *tool.ToolError
		if errors.As(err, &toolErr) {
			msg = toolErr.Message
		}
		return fmt.Sprintf("Error executing tool %s: %s", call.Name, msg), true
	}
	return res.Content, res.IsError
}

// maybeConsolidate starts the detached consolidation when the conversation
// reached the window. The unbound client is used.
func (a *Agent) maybeConsolidate(ctx context.Context, req Request, finalText string, sink Sink) *memory.Task {
	c := a.opts.Consolidator
	if c == nil || !c.ShouldConsolidate(len(req.History)+1) {
		return nil
	}

	conversation := make([]core.Message, 0, len(req.History)+2)
	conversation = append(conversation, req.History...)
	conversation = append(conversation,
		core.NewUserMessage(req.CurrentMessage),
		core.Message{Role: core.RoleAssistant, Content: finalText},
	)

	a.opts.Logger.Info("agent.consolidation.start", "history", len(req.History)+1)
	return memory.Start(ctx, a.opts.ConsolidationTimeout,
		func(runCtx context.Context) (core.ConsolidationResult, error) {
			return c.Consolidate(runCtx, conversation, req.LongTermMemory, a.client), nil
		},
		func(res core.ConsolidationResult) {
			if err := sink(core.MemoryConsolidationEvent{Result: res}); err != nil {
				a.opts.Logger.Warn("agent.consolidation.undelivered", "error", err.Error())
			}
		},
	)
}

// normalizeArgs returns the wire form of provider tool arguments. Empty and
// null arguments become {}; text that is not valid JSON (a truncated stream)
// is carried as a JSON string so the call can still be framed and answered
// with an error result.
func normalizeArgs(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	if json.Valid(trimmed) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// argsText renders arguments for an error message, unquoting the string
// form produced by normalizeArgs.
func argsText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
