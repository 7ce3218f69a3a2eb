package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/logging"
)

// ProcessingErrorMessage is sent when the upstream stream fails mid-flight.
const ProcessingErrorMessage = "AI processing error"

// Downstream receives the frames destined for the client. A write error
// abandons the pipeline.
type Downstream interface {
	WriteFrame(frame []byte) error
}

// DownstreamFunc adapts a function to Downstream.
type DownstreamFunc func(frame []byte) error

// WriteFrame implements Downstream.
func (f DownstreamFunc) WriteFrame(frame []byte) error { return f(frame) }

// Session identifies the conversation a relayed stream belongs to.
type Session struct {
	UserID         string
	ConversationID string
	// Ephemeral skips every store write.
	Ephemeral bool
}

// Result describes a relayed stream.
type Result struct {
	// Text is the assistant text assembled from chunk frames.
	Text string
	// ToolCalls are the calls seen, in order, with their outcomes and offsets
	// into Text.
	ToolCalls []core.ToolCall
	// MessageID is the id of the persisted assistant message, empty when
	// nothing was persisted.
	MessageID string
	// Terminal is the kind of the terminal frame written downstream.
	Terminal core.EventKind
	// Forwarded counts the frames written downstream, the terminal included.
	Forwarded int
}

// Options configures a Relay.
type Options struct {
	Conversations core.ConversationStore
	Memory        core.MemoryStore
	Summaries     core.SummaryStore
	Logger        logging.Logger
	// PersistTimeout bounds each store write.
	PersistTimeout time.Duration
	// DrainTimeout bounds how long the upstream is read after the terminal
	// frame, waiting for a late memory consolidation.
	DrainTimeout time.Duration
	// ReadSize is the upstream read buffer size.
	ReadSize int
	// MaxFrameSize bounds an upstream frame waiting for its delimiter; an
	// oversized frame is handled as an unparseable raw frame.
	MaxFrameSize int
}

// Relay applies the frame classification policy. It is safe for concurrent
// use; every Run is independent.
type Relay struct {
	opts Options
	wg   sync.WaitGroup
}

// New creates a Relay. Nil stores disable the matching writes.
func New(optFns ...func(o *Options)) *Relay {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		PersistTimeout: 10 * time.Second,
		DrainTimeout:   30 * time.Second,
		ReadSize:       4096,
		MaxFrameSize:   DefaultMaxFrameSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Relay{opts: opts}
}

// Wait blocks until every background drain and memory write finished.
func (r *Relay) Wait() { r.wg.Wait() }

// Run pumps upstream to downstream until a terminal frame was written.
//
// Run takes ownership of upstream: if it is an io.Closer it is closed once
// it is no longer read, which may be after Run returned (see DrainTimeout).
// The returned error is non-nil only when the downstream failed or ctx was
// cancelled; upstream failures are reported to the client as an error frame.
func (r *Relay) Run(ctx context.Context, sess Session, upstream io.Reader, down Downstream) (*Result, error) {
	p := &pipeline{
		relay:   r,
		sess:    sess,
		down:    down,
		log:     r.opts.Logger,
		ctx:     ctx,
		pending: map[string]int{},
	}

	scanner := FrameScanner{MaxFrameSize: r.opts.MaxFrameSize}
	buf := make([]byte, r.opts.ReadSize)
	for {
		if err := ctx.Err(); err != nil {
			closeUpstream(upstream)
			return p.result(), err
		}

		n, readErr := upstream.Read(buf)
		if n > 0 {
			frames := scanner.Feed(buf[:n])
			for i, frame := range frames {
				if err := p.handle(frame); err != nil {
					closeUpstream(upstream)
					return p.result(), err
				}
				if p.done {
					r.drain(ctx, sess, upstream, &scanner, frames[i+1:])
					return p.result(), nil
				}
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			if frame := scanner.Flush(); frame != nil {
				if err := p.handle(frame); err != nil {
					closeUpstream(upstream)
					return p.result(), err
				}
			}
			closeUpstream(upstream)
			if !p.done {
				r.opts.Logger.Debug("relay.upstream.eof", "conversation_id", sess.ConversationID)
				if err := p.finish(); err != nil {
					return p.result(), err
				}
			}
			return p.result(), nil
		}

		closeUpstream(upstream)
		r.opts.Logger.Error("relay.upstream.failed", "conversation_id", sess.ConversationID, "error", readErr.Error())
		if err := p.emitTerminal(core.ErrorEvent{Message: ProcessingErrorMessage}); err != nil {
			return p.result(), err
		}
		return p.result(), nil
	}
}

// drain keeps reading upstream after the terminal frame, applying only
// memory consolidation frames.
func (r *Relay) drain(ctx context.Context, sess Session, upstream io.Reader, scanner *FrameScanner, leftover [][]byte) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer closeUpstream(upstream)

		if c, ok := upstream.(io.Closer); ok && r.opts.DrainTimeout > 0 {
			t := time.AfterFunc(r.opts.DrainTimeout, func() { _ = c.Close() })
			defer t.Stop()
		}

		apply := func(frame []byte) {
			payload, ok := Payload(frame)
			if !ok {
				return
			}
			ev, err := core.UnmarshalEvent(payload)
			if err != nil {
				return
			}
			if mc, ok := ev.(core.MemoryConsolidationEvent); ok {
				r.applyConsolidation(ctx, sess, mc.Result)
			}
		}

		for _, frame := range leftover {
			apply(frame)
		}

		buf := make([]byte, r.opts.ReadSize)
		for {
			n, err := upstream.Read(buf)
			for _, frame := range scanner.Feed(buf[:n]) {
				apply(frame)
			}
			if err != nil {
				if frame := scanner.Flush(); frame != nil && errors.Is(err, io.EOF) {
					apply(frame)
				}
				return
			}
		}
	}()
}

// applyConsolidation writes a consolidation result in the background. The
// writes are detached from ctx so a closed client connection cannot abort
// them.
func (r *Relay) applyConsolidation(ctx context.Context, sess Session, res core.ConsolidationResult) {
	if sess.Ephemeral || res.IsEmpty() {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.PersistTimeout)
		defer cancel()

		if res.MemoryUpdate != "" && r.opts.Memory != nil && sess.UserID != "" {
			if _, err := r.opts.Memory.UpsertMemory(wctx, sess.UserID, res.MemoryUpdate, true); err != nil {
				r.opts.Logger.Error("relay.memory.upsert_failed", "user_id", sess.UserID, "error", err.Error())
			} else {
				r.opts.Logger.Info("relay.memory.updated", "user_id", sess.UserID)
			}
		}
		if res.HistoryEntry != "" && r.opts.Summaries != nil && sess.ConversationID != "" {
			if _, err := r.opts.Summaries.AppendSummary(wctx, sess.ConversationID, res.HistoryEntry); err != nil {
				r.opts.Logger.Error("relay.summary.append_failed", "conversation_id", sess.ConversationID, "error", err.Error())
			}
		}
	}()
}

func closeUpstream(upstream io.Reader) {
	if c, ok := upstream.(io.Closer); ok {
		_ = c.Close()
	}
}

// pipeline is the per-Run state.
type pipeline struct {
	relay *Relay
	sess  Session
	down  Downstream
	log   logging.Logger
	ctx   context.Context

	text      strings.Builder
	calls     []core.ToolCall
	pending   map[string]int // tool call id -> index in calls
	messageID string
	terminal  core.EventKind
	forwarded int
	done      bool
}

func (p *pipeline) result() *Result {
	return &Result{
		Text:      p.text.String(),
		ToolCalls: append([]core.ToolCall(nil), p.calls...),
		MessageID: p.messageID,
		Terminal:  p.terminal,
		Forwarded: p.forwarded,
	}
}

// handle classifies one frame.
func (p *pipeline) handle(frame []byte) error {
	payload, ok := Payload(frame)
	if !ok {
		return p.forward(frame)
	}
	ev, err := core.UnmarshalEvent(payload)
	if err != nil {
		p.log.Warn("relay.frame.unparsed", "conversation_id", p.sess.ConversationID, "error", err.Error())
		return p.forward(frame)
	}

	switch e := ev.(type) {
	case core.ChunkEvent:
		p.text.WriteString(e.Text)
		return p.forward(frame)
	case core.ToolCallEvent:
		p.pending[e.ID] = len(p.calls)
		p.calls = append(p.calls, core.ToolCall{ID: e.ID, Name: e.Name, Args: e.Args, Offset: p.text.Len()})
		return p.forward(frame)
	case core.ToolResultEvent:
		if i, ok := p.pending[e.ID]; ok {
			if err := p.calls[i].Resolve(e.Result, e.IsError); err != nil {
				p.log.Warn("relay.tool_result.duplicate", "tool_call_id", e.ID)
			}
			delete(p.pending, e.ID)
		} else {
			p.log.Warn("relay.tool_result.unmatched", "tool_call_id", e.ID)
		}
		return p.forward(frame)
	case core.EndEvent:
		return p.finish()
	case core.MemoryConsolidationEvent:
		p.relay.applyConsolidation(p.ctx, p.sess, e.Result)
		return nil
	case core.ErrorEvent:
		if err := p.forward(frame); err != nil {
			return err
		}
		p.terminal = core.KindError
		p.done = true
		return nil
	default:
		return p.forward(frame)
	}
}

// finish persists the assistant message and writes the replacement end.
func (p *pipeline) finish() error {
	p.messageID = p.persist()
	return p.emitTerminal(core.EndEvent{ConversationID: p.sess.ConversationID, MessageID: p.messageID})
}

func (p *pipeline) persist() string {
	store := p.relay.opts.Conversations
	if p.sess.Ephemeral || store == nil || p.sess.ConversationID == "" {
		return ""
	}

	msg := core.StoredMessage{
		ConversationID: p.sess.ConversationID,
		Role:           core.RoleAssistant,
		Content:        p.text.String(),
	}
	if len(p.calls) > 0 {
		msg.Metadata = &core.MessageMetadata{ToolCalls: append([]core.ToolCall(nil), p.calls...)}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), p.relay.opts.PersistTimeout)
	defer cancel()

	saved, err := store.AppendMessage(ctx, msg)
	if err != nil {
		p.log.Error("relay.message.persist_failed", "conversation_id", p.sess.ConversationID, "error", err.Error())
		return ""
	}
	return saved.ID
}

func (p *pipeline) emitTerminal(ev core.StreamEvent) error {
	frame, err := core.EncodeFrame(ev)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", ev.Kind(), err)
	}
	p.terminal = ev.Kind()
	p.done = true
	if err := p.down.WriteFrame(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Kind(), err)
	}
	p.forwarded++
	return nil
}

// forward writes a frame verbatim, restoring its delimiter.
func (p *pipeline) forward(frame []byte) error {
	out := make([]byte, 0, len(frame)+2)
	out = append(out, frame...)
	out = append(out, '\n', '\n')
	if err := p.down.WriteFrame(out); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	p.forwarded++
	return nil
}
