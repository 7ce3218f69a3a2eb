// Package anthropic implements model.Client on the Anthropic Messages API
// with streaming and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/model"
)

const providerName = "anthropic"

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind model.Client.
type Model struct {
	client *anthropic.Client
	opts   Options
	tools  []core.ToolDefinition
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client.
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
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// BindTools implements model.Client.
func (m *Model) BindTools(defs []core.ToolDefinition) model.Client {
	cp := *m
	cp.tools = defs
	return &cp
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      providerName,
		SupportsTools: true,
	}
}

// Stream implements model.Client. Text deltas are forwarded as they arrive;
// tool_use blocks are taken from the accumulated message once the stream ends.
func (m *Model) Stream(ctx context.Context, msgs []core.Message) (<-chan model.Delta, <-chan error) {
	out := make(chan model.Delta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(msgs),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if system := extractSystem(msgs); len(system) > 0 {
			params.System = system
		}
		if len(m.tools) > 0 {
			params.Tools = buildTools(m.tools)
		}

		stream := m.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message := anthropic.Message{}
		textLen := 0
		offsets := map[int64]int{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				errCh <- model.Classify(providerName, 0, fmt.Errorf("anthropic accumulate: %w", err))
				return
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				offsets[ev.Index] = textLen
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
					textLen += len(d.Text)
					select {
					case out <- model.Delta{Text: d.Text}:
					case <-ctx.Done():
						errCh <- model.Classify(providerName, 0, ctx.Err())
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
			return
		}

		var calls []core.ToolCall
		for i, block := range message.Content {
			if block.Type != "tool_use" {
				continue
			}
			tu := block.AsToolUse()
			args, err := json.Marshal(tu.Input)
			if err != nil || len(args) == 0 || string(args) == "null" {
				args = []byte("{}")
			}
			calls = append(calls, core.ToolCall{ID: tu.ID, Name: tu.Name, Args: args, Offset: offsets[int64(i)]})
		}
		if len(calls) > 0 {
			out <- model.Delta{ToolCalls: calls}
		}
	}()

	return out, errCh
}

func classify(err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return model.Classify(providerName, status, fmt.Errorf("anthropic streaming error: %w", err))
}

// buildMessages converts context messages to the Anthropic format. Tool
// results travel in user turns; consecutive tool messages share one turn.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case core.RoleAssistant:
			flush()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				// tool_use input must be an object; malformed arguments replay as {}.
				input, err := tc.ArgsMap()
				if err != nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		default:
			flush()
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flush()

	return messages
}

func extractSystem(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range msgs {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

func buildTools(tools []core.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			switch req := tool.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if tool.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}

	return out
}
