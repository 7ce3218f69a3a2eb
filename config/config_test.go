package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/model/provider"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.HasModel())
}

func TestTemplateMatchesDefault(t *testing.T) {
	path := writeFile(t, Template())

	for _, k := range []string{"OPENAI_API_KEY", "LUMEN_MODEL_API_KEY"} {
		t.Setenv(k, "")
	}
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
[engine]
max_turns = 4
model_timeout = "5s"

[gateway]
engine_url = "http://engine:4001"

[model]
provider = "anthropic"
model = "claude-test"
api_key = "sk-ant"
temperature = 0.2

[storage]
driver = "sqlite"
path = "/var/lib/lumen/lumen.db"

[log]
level = "debug"
format = "text"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.MaxTurns)
	assert.Equal(t, 5*time.Second, cfg.Engine.ModelTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.ToolTimeout)
	assert.Equal(t, "http://engine:4001", cfg.Gateway.EngineURL)
	assert.Equal(t, provider.TypeAnthropic, cfg.Model.Provider)
	require.NotNil(t, cfg.Model.Temperature)
	assert.InDelta(t, 0.2, *cfg.Model.Temperature, 1e-9)
	assert.True(t, cfg.HasModel())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)

	lc := cfg.Log.LoggerConfig("engine")
	assert.Equal(t, logging.LogLevelDebug, lc.Level)
	assert.Equal(t, "text", lc.Format)
	assert.Equal(t, "engine", lc.Component)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "[engine\nmax_turns = 1"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeFile(t, "[engine]\nmax_turn = 1\n"))
	assert.ErrorContains(t, err, "engine.max_turn")

	_, err = Load(writeFile(t, "[engine]\nmax_turns = 0\n[storage]\ndriver = \"postgres\"\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "engine.max_turns must be positive")
	assert.ErrorContains(t, err, `storage.driver must be memory or sqlite, got "postgres"`)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, env(map[string]string{
		"LUMEN_ENGINE_ADDR":      ":9001",
		"LUMEN_ENGINE_URL":       "http://127.0.0.1:9001",
		"LUMEN_MODEL_PROVIDER":   "google",
		"LUMEN_MODEL":            "gemini-test",
		"GOOGLE_API_KEY":         "g-key",
		"LUMEN_MAX_TURNS":        "3",
		"LUMEN_MODEL_TIMEOUT":    "90s",
		"LUMEN_STORAGE_DRIVER":   "sqlite",
		"LUMEN_LOG_LEVEL":        "warn",
		"LUMEN_UPSTREAM_TIMEOUT": "",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9001", cfg.Engine.Addr)
	assert.Equal(t, "http://127.0.0.1:9001", cfg.Gateway.EngineURL)
	assert.Equal(t, provider.Config{Provider: provider.TypeGoogle, Model: "gemini-test", APIKey: "g-key"}, cfg.Model)
	assert.Equal(t, 3, cfg.Engine.MaxTurns)
	assert.Equal(t, 90*time.Second, cfg.Engine.ModelTimeout)
	assert.Equal(t, 30*time.Second, cfg.Gateway.UpstreamTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_ExplicitKeyWins(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, env(map[string]string{
		"LUMEN_MODEL_API_KEY": "explicit",
		"OPENAI_API_KEY":      "vendor",
	})))
	assert.Equal(t, "explicit", cfg.Model.APIKey)
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	assert.ErrorContains(t, ApplyEnv(Default(), env(map[string]string{"LUMEN_MAX_TURNS": "many"})), "LUMEN_MAX_TURNS")
	assert.ErrorContains(t, ApplyEnv(Default(), env(map[string]string{"LUMEN_TOOL_TIMEOUT": "soon"})), "LUMEN_TOOL_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad engine url", func(c *Config) { c.Gateway.EngineURL = "engine:4001" }, "gateway.engine_url"},
		{"unknown provider", func(c *Config) { c.Model.Provider = "acme" }, "unsupported provider"},
		{"sqlite without path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, "engine.timezone"},
		{"zero timeout", func(c *Config) { c.Engine.ToolTimeout = 0 }, "engine.tool_timeout must be positive"},
		{"tiny window", func(c *Config) { c.Engine.ConsolidationWindow = 1 }, "consolidation_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "lumen.toml")
	require.NoError(t, WriteDefault(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.ErrorContains(t, WriteDefault(path), "already exists")
}
