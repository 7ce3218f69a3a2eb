// Package gemini implements model.Client on the Google Gemini API using the
// google.golang.org/genai SDK (GenerateContentStream).
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/model"
)

const providerName = "google"

// Options configures the Gemini adapter.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	APIKey          string
	BaseURL         string
}

// Model wraps a genai client behind model.Client.
type Model struct {
	client *genai.Client
	opts   Options
	tools  []core.ToolDefinition
}

// NewModel creates a Gemini model. The API key falls back to the SDK's
// environment lookup (GOOGLE_API_KEY / GEMINI_API_KEY) when empty.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.BaseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// BindTools implements model.Client.
func (m *Model) BindTools(defs []core.ToolDefinition) model.Client {
	cp := *m
	cp.tools = defs
	return &cp
}

// Info implements model.Client.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: providerName, SupportsTools: true}
}

// Stream implements model.Client.
func (m *Model) Stream(ctx context.Context, msgs []core.Message) (<-chan model.Delta, <-chan error) {
	out := make(chan model.Delta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		system, contents := buildContents(msgs)
		config := m.buildConfig(system)

		var (
			textLen int
			calls   []core.ToolCall
		)
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, contents, config) {
			if err != nil {
				errCh <- classify(err)
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil {
					continue
				}
				if part.FunctionCall != nil {
					calls = append(calls, toToolCall(part.FunctionCall, textLen))
					continue
				}
				if part.Text == "" || part.Thought {
					continue
				}
				textLen += len(part.Text)
				select {
				case out <- model.Delta{Text: part.Text}:
				case <-ctx.Done():
					errCh <- model.Classify(providerName, 0, ctx.Err())
					return
				}
			}
		}
		if len(calls) > 0 {
			out <- model.Delta{ToolCalls: calls}
		}
	}()

	return out, errCh
}

func toToolCall(fc *genai.FunctionCall, offset int) core.ToolCall {
	id := fc.ID
	if id == "" {
		id = core.NewID()
	}
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = []byte("{}")
	}
	return core.ToolCall{ID: id, Name: fc.Name, Args: args, Offset: offset}
}

func classify(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return model.Classify(providerName, status, fmt.Errorf("gemini streaming error: %w", err))
}

// buildContents splits system instructions from the conversation and maps
// roles: assistant -> model, tool -> user with a function response part.
func buildContents(msgs []core.Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case core.RoleAssistant:
			parts := make([]*genai.Part, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args, _ := tc.ArgsMap()
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		case core.RoleTool:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.Name,
					Response: map[string]any{"output": msg.Content},
				},
			}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	return system, contents
}

func (m *Model) buildConfig(system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.opts.Temperature),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(m.tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(m.tools))
		for _, t := range m.tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}
