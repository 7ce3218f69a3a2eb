package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/model"
)

// WindowSize is the history length at which consolidation is triggered.
// The oldest WindowSize/2 messages are summarized.
const WindowSize = 20

const systemInstruction = "You are a helpful assistant that outputs JSON."

const promptTemplate = `You are a memory consolidation expert.
Your task is to process a segment of conversation history and output a JSON object.

## Current User Profile (Long-term Memory)
%s

## Conversation Segment to Process
%s

## Instructions
1. **User Profile Update**: Extract any new *permanent* facts about the user (e.g., name, preferences, job, core beliefs) from the conversation, not the specific details of this chat. Merge them with the "Current User Profile". If there are no new facts, keep it as is.
2. **Conversation Summary**: Write a concise, specific summary of this conversation segment. It will be stored as a log.

## Output Format (JSON Only)
{
  "memory_update": "Updated text of the user profile...",
  "history_entry": "Concise summary of this segment..."
}

Respond with ONLY valid JSON. Do not use markdown blocks.`

var (
	fenceRe         = regexp.MustCompile("```(?:json|JSON)?")
	trailingCommaRe = regexp.MustCompile(`,\s*}`)
)

// ShouldConsolidate reports whether a history of n messages needs compaction.
func ShouldConsolidate(n int) bool { return n >= WindowSize }

// ConsolidatorOptions configures a Consolidator.
type ConsolidatorOptions struct {
	WindowSize int
	Logger     logging.Logger
}

// Consolidator summarizes old history into a ConsolidationResult.
type Consolidator struct {
	window int
	logger logging.Logger
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(optFns ...func(o *ConsolidatorOptions)) *Consolidator {
	opts := ConsolidatorOptions{WindowSize: WindowSize, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.WindowSize <= 1 {
		opts.WindowSize = WindowSize
	}
	return &Consolidator{window: opts.WindowSize, logger: opts.Logger}
}

// ShouldConsolidate reports whether a history of n messages reaches the
// configured window.
func (c *Consolidator) ShouldConsolidate(n int) bool { return n >= c.window }

// Consolidate summarizes the oldest half-window of fullHistory. It never
// fails: any model or parse error yields an empty result.
func (c *Consolidator) Consolidate(ctx context.Context, fullHistory []core.Message, currentMemory string, client model.Client) core.ConsolidationResult {
	segment := fullHistory
	if n := c.window / 2; len(segment) > n {
		segment = segment[:n]
	}
	if len(segment) == 0 {
		return core.ConsolidationResult{}
	}

	prompt := BuildPrompt(segment, currentMemory)
	text, _, err := model.Collect(ctx, client, []core.Message{
		core.NewSystemMessage(systemInstruction),
		core.NewUserMessage(prompt),
	})
	if err != nil {
		c.logger.Warn("memory.consolidation.model_failed", "error", err.Error())
		return core.ConsolidationResult{}
	}

	res, err := ParseResult(text)
	if err != nil {
		c.logger.Warn("memory.consolidation.parse_failed", "error", err.Error())
		return core.ConsolidationResult{}
	}
	c.logger.Debug("memory.consolidation.done",
		"segment", len(segment),
		"memory_update", res.MemoryUpdate != "",
		"history_entry", res.HistoryEntry != "",
	)
	return res
}

// BuildPrompt renders the consolidation prompt for segment. An empty profile
// is shown as "(Empty)".
func BuildPrompt(segment []core.Message, currentMemory string) string {
	lines := make([]string, 0, len(segment))
	for _, m := range segment {
		lines = append(lines, fmt.Sprintf("[%s]: %s", m.Role, m.Content))
	}
	profile := currentMemory
	if strings.TrimSpace(profile) == "" {
		profile = "(Empty)"
	}
	return fmt.Sprintf(promptTemplate, profile, strings.Join(lines, "\n"))
}

// ParseResult extracts a ConsolidationResult from raw model output. Code
// fences and surrounding prose are tolerated; the payload must be a JSON
// object whose memory_update and history_entry are strings or absent.
func ParseResult(raw string) (core.ConsolidationResult, error) {
	s := strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}
	if !gjson.Valid(s) {
		s = trailingCommaRe.ReplaceAllString(s, "}")
		if !gjson.Valid(s) {
			return core.ConsolidationResult{}, fmt.Errorf("invalid JSON")
		}
	}

	doc := gjson.Parse(s)
	if !doc.IsObject() {
		return core.ConsolidationResult{}, fmt.Errorf("expected JSON object, got %s", doc.Type)
	}

	var res core.ConsolidationResult
	for key, dst := range map[string]*string{
		"memory_update": &res.MemoryUpdate,
		"history_entry": &res.HistoryEntry,
	} {
		v := doc.Get(key)
		switch {
		case !v.Exists() || v.Type == gjson.Null:
		case v.Type == gjson.String:
			*dst = v.String()
		default:
			return core.ConsolidationResult{}, fmt.Errorf("%s must be a string, got %s", key, v.Type)
		}
	}
	return res, nil
}
