package config

// Template returns the commented default configuration file.
func Template() string {
	return `# Lumen configuration
# This file uses TOML format: https://toml.io
# Every value may also be set through LUMEN_* environment variables.

[engine]
addr = ":4001"
max_concurrent_invocations = 10
# Reasoning turns per request before the loop stops.
max_turns = 10
model_timeout = "60s"
tool_timeout = "30s"
# How long a finished response stays open for a pending consolidation.
consolidation_grace = "30s"
consolidation_timeout = "2m"
# History length that triggers memory consolidation.
consolidation_window = 20
# Replaces the built-in system prompt when set.
system_prompt = ""
# IANA zone used by the get_current_time tool.
timezone = "Local"

[gateway]
addr = ":4000"
engine_url = "http://localhost:4001"
upstream_timeout = "30s"
drain_timeout = "30s"
persist_timeout = "10s"

[model]
# openai, google or anthropic
provider = "openai"
model = "gpt-4o-mini"
# Falls back to OPENAI_API_KEY, GOOGLE_API_KEY or ANTHROPIC_API_KEY.
api_key = ""
base_url = ""

[storage]
# memory or sqlite
driver = "memory"
path = "data/lumen.db"

[log]
# debug, info, warn or error
level = "info"
# json or text
format = "json"
add_source = false
`
}
