package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/lumen/agent"
	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/model"
	"github.com/hupe1980/lumen/model/provider"
	"github.com/hupe1980/lumen/tool"
)

// ErrBusy is returned by Invoke when MaxConcurrentInvocations is reached.
var ErrBusy = errors.New("engine: too many concurrent invocations")

// ErrNoModel is returned when neither a default nor a per-request model
// configuration is usable.
var ErrNoModel = errors.New("engine: no model configured")

// Config defines tuning parameters for the Engine's operational behavior.
type Config struct {
	// MaxConcurrentInvocations limits the number of agent loops that can
	// execute simultaneously. Set to 0 for unlimited (not recommended).
	MaxConcurrentInvocations int

	// MaxTurns is the reasoning turn ceiling per request. Values <= 0 fall
	// back to agent.DefaultMaxTurns.
	MaxTurns int

	// ModelTimeout bounds every model turn.
	ModelTimeout time.Duration

	// ToolTimeout bounds every tool call.
	ToolTimeout time.Duration

	// ConsolidationGrace is how long the response stays open after the
	// terminal frame for a pending consolidation.
	ConsolidationGrace time.Duration

	// ConsolidationTimeout bounds a detached consolidation.
	ConsolidationTimeout time.Duration

	// MaxBodyBytes caps the request body.
	MaxBodyBytes int64
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
	MaxTurns:                 agent.DefaultMaxTurns,
	ModelTimeout:             60 * time.Second,
	ToolTimeout:              30 * time.Second,
	ConsolidationGrace:       30 * time.Second,
	ConsolidationTimeout:     memory.DefaultTaskTimeout,
	MaxBodyBytes:             4 << 20,
}

// ClientFactory builds a model client from provider configuration.
type ClientFactory func(ctx context.Context, cfg provider.Config) (model.Client, error)

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Model is the default provider configuration. Requests may override it.
	Model provider.Config

	// ClientFactory builds clients; defaults to provider.New.
	ClientFactory ClientFactory

	// Registry holds the tools offered to the model. Defaults to an empty
	// registry.
	Registry *tool.Registry

	// Consolidator enables memory consolidation; nil disables it.
	Consolidator *memory.Consolidator

	// SystemPrompt overrides the agent's default instruction when set.
	SystemPrompt string

	// Callbacks receives lifecycle events. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Engine runs agent invocations with bounded concurrency.
type Engine struct {
	config       Config
	model        provider.Config
	factory      ClientFactory
	registry     *tool.Registry
	consolidator *memory.Consolidator
	systemPrompt string
	callbacks    *CallbackManager
	logger       logging.Logger

	sem chan struct{}

	clientOnce    sync.Once
	defaultClient model.Client
	defaultErr    error

	// Active invocation tracking - protected by separate mutex
	activeInvocations map[string]context.CancelFunc
	invocationsMu     sync.RWMutex
}

// New creates a new Engine instance with sensible defaults and optional configuration.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:        DefaultConfig,
		ClientFactory: provider.New,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.MaxTurns <= 0 {
		opts.Config.MaxTurns = agent.DefaultMaxTurns
	}
	if opts.Registry == nil {
		opts.Registry = tool.NewRegistry()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	e := &Engine{
		config:            opts.Config,
		model:             opts.Model,
		factory:           opts.ClientFactory,
		registry:          opts.Registry,
		consolidator:      opts.Consolidator,
		systemPrompt:      opts.SystemPrompt,
		callbacks:         opts.Callbacks,
		logger:            opts.Logger,
		activeInvocations: make(map[string]context.CancelFunc),
	}
	if n := opts.Config.MaxConcurrentInvocations; n > 0 {
		e.sem = make(chan struct{}, n)
	}
	return e
}

// Callbacks returns the lifecycle callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Registry returns the tool registry offered to the model.
func (e *Engine) Registry() *tool.Registry { return e.registry }

// Invocation is a started agent run. Events are written to the sink passed
// to Invoke; Wait returns the outcome.
type Invocation struct {
	ID string

	done    chan struct{}
	outcome *agent.Outcome
	err     error
}

// Wait blocks until the loop finished (not the consolidation).
func (inv *Invocation) Wait() (*agent.Outcome, error) {
	<-inv.done
	return inv.outcome, inv.err
}

// client resolves the model client for a request override.
func (e *Engine) client(ctx context.Context, override *provider.Config) (model.Client, error) {
	if override == nil {
		e.clientOnce.Do(func() {
			if e.model.Provider == "" {
				e.defaultErr = ErrNoModel
				return
			}
			e.defaultClient, e.defaultErr = e.factory(ctx, e.model)
		})
		return e.defaultClient, e.defaultErr
	}
	return e.factory(ctx, e.model.Merge(override))
}

// Invoke validates the model selection, reserves a concurrency slot and runs
// the agent loop in a new goroutine. sink receives every event, including a
// late memory_consolidation; it must be safe for concurrent use.
//
// The returned error is ErrBusy, a model configuration error or a
// BeforeInvocation callback rejection; the run itself reports through
// Invocation.Wait.
func (e *Engine) Invoke(
	ctx context.Context,
	invocationID string,
	req agent.Request,
	override *provider.Config,
	sink agent.Sink,
) (*Invocation, error) {
	if !e.acquire() {
		return nil, ErrBusy
	}

	client, err := e.client(ctx, override)
	if err != nil {
		e.release()
		return nil, fmt.Errorf("model configuration: %w", err)
	}

	if invocationID == "" {
		invocationID = uuid.NewString()
	}

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeInvocation, &CallbackContext{
		InvocationID: invocationID,
		Request:      &req,
	}); err != nil {
		e.release()
		return nil, err
	}

	// Create cancellable context for this invocation
	invocationCtx, cancel := context.WithCancel(ctx)

	e.invocationsMu.Lock()
	e.activeInvocations[invocationID] = cancel
	e.invocationsMu.Unlock()

	a := agent.New(client, e.registry, func(o *agent.Options) {
		o.MaxTurns = e.config.MaxTurns
		o.ModelTimeout = e.config.ModelTimeout
		o.ToolTimeout = e.config.ToolTimeout
		o.Consolidator = e.consolidator
		o.ConsolidationTimeout = e.config.ConsolidationTimeout
		o.Logger = e.logger
		if e.systemPrompt != "" {
			o.Instruction = agent.NewInstructionFromText(e.systemPrompt)
		}
	})

	inv := &Invocation{ID: invocationID, done: make(chan struct{})}

	e.logger.Info("engine.invocation.start",
		"invocation_id", invocationID,
		"model", client.Info().Name,
		"provider", client.Info().Provider,
		"history", len(req.History),
	)

	go func() {
		defer func() {
			cancel()
			e.invocationsMu.Lock()
			delete(e.activeInvocations, invocationID)
			e.invocationsMu.Unlock()
			e.release()
			close(inv.done)
		}()

		start := time.Now()
		inv.outcome, inv.err = a.Run(invocationCtx, req, func(ev core.StreamEvent) error {
			if mc, ok := ev.(core.MemoryConsolidationEvent); ok {
				e.onConsolidation(invocationID, &req, mc.Result)
			}
			return sink(ev)
		})

		if inv.err != nil {
			e.logger.Warn("engine.invocation.failed",
				"invocation_id", invocationID,
				"error", inv.err.Error(),
				"kind", string(model.KindOf(inv.err)),
			)
			return
		}
		e.logger.Info("engine.invocation.completed",
			"invocation_id", invocationID,
			"turns", inv.outcome.Turns,
			"completed", inv.outcome.Completed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return inv, nil
}

func (e *Engine) onConsolidation(invocationID string, req *agent.Request, res core.ConsolidationResult) {
	err := e.callbacks.ExecuteCallbacks(context.Background(), CallbackOnConsolidation, &CallbackContext{
		InvocationID:  invocationID,
		Request:       req,
		Consolidation: &res,
	})
	if err != nil {
		e.logger.Warn("engine.callback.failed", "invocation_id", invocationID, "error", err.Error())
	}
}

func (e *Engine) acquire() bool {
	if e.sem == nil {
		return true
	}
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) release() {
	if e.sem != nil {
		<-e.sem
	}
}

// Cancel forcibly terminates a specific invocation by its ID. A running
// consolidation is not affected.
func (e *Engine) Cancel(invocationID string) error {
	e.invocationsMu.RLock()
	cancel, exists := e.activeInvocations[invocationID]
	e.invocationsMu.RUnlock()

	if !exists {
		return fmt.Errorf("invocation %s: %w", invocationID, core.ErrNotFound)
	}

	cancel()
	return nil
}

// ActiveInvocations returns the ids of running invocations, sorted.
func (e *Engine) ActiveInvocations() []string {
	e.invocationsMu.RLock()
	defer e.invocationsMu.RUnlock()
	ids := make([]string, 0, len(e.activeInvocations))
	for id := range e.activeInvocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
