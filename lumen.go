// Package lumen wires the engine, the gateway and their stores from a
// config.Config. Most deployments run the two services separately (see
// cmd/lumen); New builds a standalone instance in which the gateway reaches
// the engine in process, which is handy for local development and tests:
//
//	l, err := lumen.New(ctx, cfg)
//	if err != nil { ... }
//	defer l.Close()
//	http.ListenAndServe(":4000", l.Handler())
package lumen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hupe1980/lumen/config"
	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/engine"
	"github.com/hupe1980/lumen/gateway"
	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/relay"
	"github.com/hupe1980/lumen/store"
	"github.com/hupe1980/lumen/tool"
	"github.com/hupe1980/lumen/tool/builtin"
)

// inProcessEngineURL is the engine base URL seen by an in-process gateway.
const inProcessEngineURL = "http://engine.lumen.internal"

// NewEngine builds the engine service described by cfg. optFns run after
// the configuration was applied.
func NewEngine(cfg *config.Config, logger logging.Logger, optFns ...func(o *engine.Options)) (*engine.Engine, error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Logger = component(logger, "tool")
	})
	builtin.Register(registry, func(o *builtin.Options) {
		o.Location = loc
	})

	consolidator := memory.NewConsolidator(func(o *memory.ConsolidatorOptions) {
		o.WindowSize = cfg.Engine.ConsolidationWindow
		o.Logger = component(logger, "memory")
	})

	opts := []func(o *engine.Options){func(o *engine.Options) {
		o.Config = engine.Config{
			MaxConcurrentInvocations: cfg.Engine.MaxConcurrentInvocations,
			MaxTurns:                 cfg.Engine.MaxTurns,
			ModelTimeout:             cfg.Engine.ModelTimeout,
			ToolTimeout:              cfg.Engine.ToolTimeout,
			ConsolidationGrace:       cfg.Engine.ConsolidationGrace,
			ConsolidationTimeout:     cfg.Engine.ConsolidationTimeout,
			MaxBodyBytes:             engine.DefaultConfig.MaxBodyBytes,
		}
		o.Model = cfg.Model
		o.Registry = registry
		o.Consolidator = consolidator
		o.SystemPrompt = cfg.Engine.SystemPrompt
		o.Logger = component(logger, "engine")
	}}
	return engine.New(append(opts, optFns...)...), nil
}

// NewGateway builds the gateway service described by cfg on backend.
func NewGateway(cfg *config.Config, backend core.Store, logger logging.Logger, optFns ...func(o *gateway.Options)) *gateway.Gateway {
	rl := relay.New(func(o *relay.Options) {
		o.Conversations = backend
		o.Memory = backend
		o.Summaries = backend
		o.Logger = component(logger, "relay")
		o.DrainTimeout = cfg.Gateway.DrainTimeout
		o.PersistTimeout = cfg.Gateway.PersistTimeout
	})

	opts := []func(o *gateway.Options){func(o *gateway.Options) {
		o.EngineURL = cfg.Gateway.EngineURL
		o.UpstreamTimeout = cfg.Gateway.UpstreamTimeout
		o.Conversations = backend
		o.Memory = backend
		o.Summaries = backend
		o.Relay = rl
		o.Logger = component(logger, "gateway")
	}}
	return gateway.New(append(opts, optFns...)...)
}

func component(l logging.Logger, name string) logging.Logger {
	if sl, ok := l.(*logging.StructuredLogger); ok {
		return sl.WithComponent(name)
	}
	return l
}

// Options configures a standalone instance.
type Options struct {
	// Logger defaults to NoOp.
	Logger logging.Logger
	// Store overrides the backend opened from cfg.Storage. It is closed by
	// Close.
	Store store.Backend
	// ClientFactory overrides how the engine builds model clients.
	ClientFactory engine.ClientFactory
}

// Lumen is a standalone instance: engine and gateway in one process.
type Lumen struct {
	Engine  *engine.Engine
	Gateway *gateway.Gateway

	store store.Backend
}

// New builds a standalone instance from cfg.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Lumen, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	backend := opts.Store
	if backend == nil {
		var err error
		backend, err = store.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	eng, err := NewEngine(cfg, opts.Logger, func(o *engine.Options) {
		if opts.ClientFactory != nil {
			o.ClientFactory = opts.ClientFactory
		}
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	gw := NewGateway(cfg, backend, opts.Logger, func(o *gateway.Options) {
		o.EngineURL = inProcessEngineURL
		o.HTTPClient = &http.Client{Transport: handlerTransport{handler: eng.Handler()}}
	})

	return &Lumen{Engine: eng, Gateway: gw, store: backend}, nil
}

// Handler returns the client-facing API.
func (l *Lumen) Handler() http.Handler { return l.Gateway.Handler() }

// Store returns the persistence backend.
func (l *Lumen) Store() core.Store { return l.store }

// Ask sends message on behalf of userID and collects the client-visible
// events until the stream ends. An empty conversationID starts a new
// conversation.
func (l *Lumen) Ask(ctx context.Context, userID, conversationID, message string) ([]core.StreamEvent, error) {
	body, err := json.Marshal(gateway.StreamRequest{ConversationID: conversationID, CurrentMessage: message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://gateway.lumen.internal/v1/ai/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.HeaderUserID, userID)

	resp, err := handlerTransport{handler: l.Handler()}.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	events, err := relay.ReadEvents(resp.Body)
	if err != nil {
		return events, err
	}
	if len(events) > 0 {
		if e, ok := events[len(events)-1].(core.ErrorEvent); ok {
			return events, errors.New(e.Message)
		}
	}
	return events, nil
}

// Close waits for background memory writes and closes the store.
func (l *Lumen) Close() error {
	l.Gateway.Relay().Wait()
	return l.store.Close()
}
