package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/logging"
)

// ErrUnknownTool is returned by Registry.Execute for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry maps tool names to implementations. It is read-mostly: tools are
// registered at startup and looked up concurrently by agent loops.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{tools: map[string]Tool{}, logger: opts.Logger}
}

// Register adds t. Registering an existing name replaces the previous tool
// and logs a warning.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		r.logger.Warn("tool.registry.overwrite", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the schema list handed to the model, sorted by name.
func (r *Registry) Definitions() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]core.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, core.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute looks up name, decodes rawArgs and runs the tool. Unknown names and
// malformed arguments are errors; so is a tool that returns one.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs json.RawMessage) (Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args, err := core.ToolCall{Args: rawArgs}.ArgsMap()
	if err != nil {
		return Result{}, fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	start := time.Now()
	res, err := t.Execute(ctx, args)
	r.logger.Debug("tool.call.executed",
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil || res.IsError,
	)
	return res, err
}
