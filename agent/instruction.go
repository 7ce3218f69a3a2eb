package agent

import (
	"context"
	"time"

	"github.com/hupe1980/lumen/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ctx context.Context, req Request) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, req Request) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Instruction represents either a static instruction string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string. The
// text may reference {{.now}} and {{.date}}.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, req Request) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context, req Request, now time.Time) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, req)
	}
	return util.RenderTemplate(i.text, map[string]any{
		"now":  now.Format(time.RFC3339),
		"date": now.Format("2006-01-02"),
	})
}
