package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/lumen/model/provider"
)

// LookupFunc reads an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// vendorKeys are consulted when no API key was configured explicitly.
var vendorKeys = map[provider.Type]string{
	provider.TypeOpenAI:    "OPENAI_API_KEY",
	provider.TypeGoogle:    "GOOGLE_API_KEY",
	provider.TypeAnthropic: "ANTHROPIC_API_KEY",
}

// ApplyEnv overrides cfg with LUMEN_* variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("LUMEN_ENGINE_ADDR", &cfg.Engine.Addr)
	str("LUMEN_SYSTEM_PROMPT", &cfg.Engine.SystemPrompt)
	str("LUMEN_TIMEZONE", &cfg.Engine.Timezone)
	str("LUMEN_GATEWAY_ADDR", &cfg.Gateway.Addr)
	str("LUMEN_ENGINE_URL", &cfg.Gateway.EngineURL)
	str("LUMEN_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("LUMEN_STORAGE_PATH", &cfg.Storage.Path)
	str("LUMEN_LOG_LEVEL", &cfg.Log.Level)
	str("LUMEN_LOG_FORMAT", &cfg.Log.Format)

	var providerName string
	str("LUMEN_MODEL_PROVIDER", &providerName)
	if providerName != "" && provider.Type(providerName) != cfg.Model.Provider {
		cfg.Model = cfg.Model.Merge(&provider.Config{Provider: provider.Type(providerName)})
	}
	str("LUMEN_MODEL", &cfg.Model.Model)
	str("LUMEN_MODEL_API_KEY", &cfg.Model.APIKey)
	str("LUMEN_MODEL_BASE_URL", &cfg.Model.BaseURL)
	if cfg.Model.APIKey == "" {
		if key, ok := vendorKeys[cfg.Model.Provider]; ok {
			str(key, &cfg.Model.APIKey)
		}
	}

	for _, fn := range []func() error{
		func() error { return integer("LUMEN_MAX_TURNS", &cfg.Engine.MaxTurns) },
		func() error { return integer("LUMEN_MAX_CONCURRENT_INVOCATIONS", &cfg.Engine.MaxConcurrentInvocations) },
		func() error { return duration("LUMEN_MODEL_TIMEOUT", &cfg.Engine.ModelTimeout) },
		func() error { return duration("LUMEN_TOOL_TIMEOUT", &cfg.Engine.ToolTimeout) },
		func() error { return duration("LUMEN_UPSTREAM_TIMEOUT", &cfg.Gateway.UpstreamTimeout) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}

	return nil
}
