// Package config loads the Lumen configuration: built-in defaults, an
// optional TOML file and LUMEN_* environment overrides, applied in that
// order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/model/provider"
)

// Config is the complete service configuration.
type Config struct {
	Engine  EngineConfig    `toml:"engine"`
	Gateway GatewayConfig   `toml:"gateway"`
	Model   provider.Config `toml:"model"`
	Storage StorageConfig   `toml:"storage"`
	Log     LogConfig       `toml:"log"`
}

// EngineConfig configures the model-side service.
type EngineConfig struct {
	Addr                     string        `toml:"addr"`
	MaxConcurrentInvocations int           `toml:"max_concurrent_invocations"`
	MaxTurns                 int           `toml:"max_turns"`
	ModelTimeout             time.Duration `toml:"model_timeout"`
	ToolTimeout              time.Duration `toml:"tool_timeout"`
	ConsolidationGrace       time.Duration `toml:"consolidation_grace"`
	ConsolidationTimeout     time.Duration `toml:"consolidation_timeout"`
	ConsolidationWindow      int           `toml:"consolidation_window"`
	SystemPrompt             string        `toml:"system_prompt"`
	// Timezone is the IANA zone reported by the get_current_time tool.
	Timezone string `toml:"timezone"`
}

// GatewayConfig configures the client-facing service.
type GatewayConfig struct {
	Addr            string        `toml:"addr"`
	EngineURL       string        `toml:"engine_url"`
	UpstreamTimeout time.Duration `toml:"upstream_timeout"`
	DrainTimeout    time.Duration `toml:"drain_timeout"`
	PersistTimeout  time.Duration `toml:"persist_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Addr:                     ":4001",
			MaxConcurrentInvocations: 10,
			MaxTurns:                 10,
			ModelTimeout:             60 * time.Second,
			ToolTimeout:              30 * time.Second,
			ConsolidationGrace:       30 * time.Second,
			ConsolidationTimeout:     2 * time.Minute,
			ConsolidationWindow:      20,
			Timezone:                 "Local",
		},
		Gateway: GatewayConfig{
			Addr:            ":4000",
			EngineURL:       "http://localhost:4001",
			UpstreamTimeout: 30 * time.Second,
			DrainTimeout:    30 * time.Second,
			PersistTimeout:  10 * time.Second,
		},
		Model: provider.Config{
			Provider: provider.TypeOpenAI,
			Model:    "gpt-4o-mini",
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "data/lumen.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. An empty path skips the file; a path that
// does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.MaxTurns <= 0 {
		errs = append(errs, errors.New("engine.max_turns must be positive"))
	}
	if c.Engine.MaxConcurrentInvocations < 0 {
		errs = append(errs, errors.New("engine.max_concurrent_invocations must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"engine.model_timeout":         c.Engine.ModelTimeout,
		"engine.tool_timeout":          c.Engine.ToolTimeout,
		"engine.consolidation_timeout": c.Engine.ConsolidationTimeout,
		"gateway.upstream_timeout":     c.Gateway.UpstreamTimeout,
		"gateway.persist_timeout":      c.Gateway.PersistTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Engine.ConsolidationGrace < 0 || c.Gateway.DrainTimeout < 0 {
		errs = append(errs, errors.New("engine.consolidation_grace and gateway.drain_timeout must not be negative"))
	}
	if c.Engine.ConsolidationWindow < 2 {
		errs = append(errs, errors.New("engine.consolidation_window must be at least 2"))
	}
	if _, err := c.Engine.Location(); err != nil {
		errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
	}

	if u, err := url.Parse(c.Gateway.EngineURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.engine_url must be an absolute URL, got %q", c.Gateway.EngineURL))
	}

	switch c.Model.Provider {
	case "", provider.TypeOpenAI, provider.TypeGoogle, provider.TypeAnthropic:
	default:
		errs = append(errs, fmt.Errorf("model.provider: %w: %s", provider.ErrUnsupportedProvider, c.Model.Provider))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory or sqlite, got %q", c.Storage.Driver))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves Timezone. Empty means local time.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || e.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// HasModel reports whether a default model is configured well enough to
// build a client. Without one, every request must carry its own config.
func (c *Config) HasModel() bool {
	return c.Model.Validate() == nil
}

// LoggerConfig converts the log section for component.
func (l LogConfig) LoggerConfig(component string) *logging.LoggerConfig {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level, _ = logging.ParseLevel(l.Level)
	cfg.Format = l.Format
	cfg.AddSource = l.AddSource
	cfg.Component = component
	return cfg
}

// WriteDefault writes the commented default configuration to path unless a
// file already exists there.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// 0600: the file may hold an API key
	if err := os.WriteFile(path, []byte(Template()), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
