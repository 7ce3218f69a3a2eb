// Package provider builds a model.Client from tagged configuration.
package provider

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/lumen/model"
	"github.com/hupe1980/lumen/model/anthropic"
	"github.com/hupe1980/lumen/model/gemini"
	"github.com/hupe1980/lumen/model/openai"
)

// Type tags the provider variant.
type Type string

const (
	// TypeOpenAI is any OpenAI-compatible chat completions endpoint.
	TypeOpenAI Type = "openai"
	// TypeGoogle is Google Gemini.
	TypeGoogle Type = "google"
	// TypeAnthropic is Anthropic Claude.
	TypeAnthropic Type = "anthropic"
)

// ErrUnsupportedProvider is returned for unknown provider tags.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Config selects and parameterizes a model provider. It is used both in the
// TOML configuration and as the per-request override of the engine API.
type Config struct {
	Provider    Type     `json:"provider" toml:"provider"`
	Model       string   `json:"model" toml:"model"`
	APIKey      string   `json:"api_key,omitempty" toml:"api_key"`
	BaseURL     string   `json:"base_url,omitempty" toml:"base_url"`
	Temperature *float64 `json:"temperature,omitempty" toml:"temperature"`
	MaxTokens   int64    `json:"max_tokens,omitempty" toml:"max_tokens"`
}

// Validate checks that the configuration can build a client.
func (c Config) Validate() error {
	switch c.Provider {
	case TypeOpenAI, TypeGoogle, TypeAnthropic:
	case "":
		return errors.New("provider is required")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, c.Provider)
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

// Merge returns c with every non-zero field of override applied. A change of
// provider discards the base credentials so keys never leak across vendors.
func (c Config) Merge(override *Config) Config {
	if override == nil {
		return c
	}
	out := c
	if override.Provider != "" && override.Provider != c.Provider {
		out = Config{Provider: override.Provider, Temperature: c.Temperature, MaxTokens: c.MaxTokens}
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		out.MaxTokens = override.MaxTokens
	}
	return out
}

// New creates the client described by cfg.
func New(ctx context.Context, cfg Config) (model.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case TypeOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Model
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	case TypeGoogle:
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			o.Model = cfg.Model
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.Temperature != nil {
				o.Temperature = float32(*cfg.Temperature)
			}
			if cfg.MaxTokens > 0 {
				o.MaxOutputTokens = int32(cfg.MaxTokens)
			}
		})
	case TypeAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Model)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
