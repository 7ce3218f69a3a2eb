package util

import (
	"fmt"
	"strings"
	"text/template"
)

var promptFuncs = template.FuncMap{
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}
		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
}

// RenderTemplate expands a system prompt written as a text/template against
// vars (the agent passes now and date). Text without "{{" is returned
// unchanged.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse system prompt: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return b.String(), nil
}
