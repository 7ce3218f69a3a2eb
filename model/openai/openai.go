// Package openai implements model.Client on the OpenAI Chat Completions API
// (streaming with tool calling). Any OpenAI-compatible endpoint can be used
// by setting BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/model"
)

const providerName = "openai"

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be emitted once the stream ends.
type aggCall struct {
	id, name string
	args     strings.Builder
	offset   int
}

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// Model wraps the OpenAI Chat Completions API behind model.Client.
type Model struct {
	client *openai.Client
	opts   Options
	tools  []core.ToolDefinition
}

// NewModel creates a new OpenAI model using the official client. APIKey and
// BaseURL fall back to the SDK environment defaults when empty.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// BindTools implements model.Client.
func (m *Model) BindTools(defs []core.ToolDefinition) model.Client {
	cp := *m
	cp.tools = defs
	return &cp
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      providerName,
		SupportsTools: true,
	}
}

// Stream implements model.Client.
func (m *Model) Stream(ctx context.Context, msgs []core.Message) (<-chan model.Delta, <-chan error) {
	out := make(chan model.Delta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(buildMessages(msgs))
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var textLen int
		toolAgg := map[int64]*aggCall{}
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					textLen += len(ch.Delta.Content)
					select {
					case out <- model.Delta{Text: ch.Delta.Content}:
					case <-ctx.Done():
						errCh <- model.Classify(providerName, 0, ctx.Err())
						return
					}
				}
				for _, tc := range ch.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{offset: textLen}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args.WriteString(tc.Function.Arguments)
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
			return
		}

		if calls := finishToolCalls(toolAgg); len(calls) > 0 {
			out <- model.Delta{ToolCalls: calls}
		}
	}()

	return out, errCh
}

func finishToolCalls(agg map[int64]*aggCall) []core.ToolCall {
	idx := make([]int64, 0, len(agg))
	for i := range agg {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	calls := make([]core.ToolCall, 0, len(idx))
	for _, i := range idx {
		ac := agg[i]
		id := ac.id
		if id == "" {
			id = core.NewID()
		}
		args := ac.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, core.ToolCall{ID: id, Name: ac.name, Args: []byte(args), Offset: ac.offset})
	}
	return calls
}

func classify(err error) error {
	status := 0
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return model.Classify(providerName, status, fmt.Errorf("openai streaming error: %w", err))
}

// buildMessages converts context messages into OpenAI chat messages.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: extractToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				asst.Content.OfString = openai.String(msg.Content)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

func extractToolCalls(calls []core.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, tc := range calls {
		args := string(tc.Args)
		if args == "" {
			args = "{}"
		}
		out = append(out, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return out
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(m.tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(m.tools))
	for i, tdef := range m.tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}
