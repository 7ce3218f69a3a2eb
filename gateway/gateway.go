package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/relay"
	"github.com/hupe1980/lumen/session"
)

// Messages of the error frames the gateway itself produces.
const (
	MessageServiceUnavailable = "AI service unavailable"
	DefaultTitle              = "New conversation"
	titleRunes                = 20
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// EngineURL is the base URL of the engine service.
	EngineURL string
	// UpstreamTimeout bounds connecting to the engine and waiting for its
	// response headers. The stream itself is not bounded.
	UpstreamTimeout time.Duration
	// HTTPClient overrides the client used for engine calls.
	HTTPClient *http.Client
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// Conversation, memory and summary persistence.
	Conversations core.ConversationStore
	Memory        core.MemoryStore
	Summaries     core.SummaryStore

	// Relay overrides the relay built from the stores.
	Relay *relay.Relay
	// Logging services.
	Logger logging.Logger
}

// Gateway serves client requests. Public methods are safe for concurrent use.
type Gateway struct {
	engineURL     string
	client        *http.Client
	maxBodyBytes  int64
	conversations core.ConversationStore
	memory        core.MemoryStore
	summaries     core.SummaryStore
	relay         *relay.Relay
	logger        logging.Logger

	activeStreams map[string]*activeStream
	mu            sync.RWMutex
}

type activeStream struct {
	userID string
	cancel context.CancelFunc
}

// New constructs a Gateway with optional overrides. Stores default to
// volatile in-memory implementations.
func New(optFns ...func(o *Options)) *Gateway {
	mem := memory.NewInMemoryStore()
	opts := Options{
		EngineURL:       "http://localhost:4001",
		UpstreamTimeout: 30 * time.Second,
		MaxBodyBytes:    4 << 20,
		Conversations:   session.NewInMemoryStore(),
		Memory:          mem,
		Summaries:       mem,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = newUpstreamClient(opts.UpstreamTimeout)
	}
	if opts.Relay == nil {
		opts.Relay = relay.New(func(o *relay.Options) {
			o.Conversations = opts.Conversations
			o.Memory = opts.Memory
			o.Summaries = opts.Summaries
			o.Logger = opts.Logger
		})
	}

	return &Gateway{
		engineURL:     strings.TrimRight(opts.EngineURL, "/"),
		client:        opts.HTTPClient,
		maxBodyBytes:  opts.MaxBodyBytes,
		conversations: opts.Conversations,
		memory:        opts.Memory,
		summaries:     opts.Summaries,
		relay:         opts.Relay,
		logger:        opts.Logger,
		activeStreams: make(map[string]*activeStream),
	}
}

func newUpstreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// Relay returns the relay used for engine streams.
func (g *Gateway) Relay() *relay.Relay { return g.relay }

// Cancel cancels a running stream of userID by ID. Streams of other users
// are reported as not found.
func (g *Gateway) Cancel(userID, streamID string) error {
	g.mu.RLock()
	s, exists := g.activeStreams[streamID]
	g.mu.RUnlock()

	if !exists || s.userID != userID {
		return fmt.Errorf("stream %s: %w", streamID, core.ErrNotFound)
	}

	s.cancel()

	return nil
}

// ActiveStreams returns the ids of running streams, sorted.
func (g *Gateway) ActiveStreams() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.activeStreams))
	for id := range g.activeStreams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Gateway) track(userID, streamID string, cancel context.CancelFunc) func() {
	s := &activeStream{userID: userID, cancel: cancel}
	g.mu.Lock()
	g.activeStreams[streamID] = s
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		if g.activeStreams[streamID] == s {
			delete(g.activeStreams, streamID)
		}
		g.mu.Unlock()
	}
}

// Title derives a conversation title from the first user message.
func Title(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return DefaultTitle
	}
	runes := []rune(message)
	if len(runes) > titleRunes {
		runes = runes[:titleRunes]
	}
	return strings.TrimSpace(string(runes))
}

// requestLogger scopes the gateway logger to one stream.
func (g *Gateway) requestLogger(conversationID, streamID string) logging.Logger {
	if sl, ok := g.logger.(*logging.StructuredLogger); ok {
		return sl.WithRequest(conversationID, streamID)
	}
	return g.logger
}
