package testutil

import (
	"errors"
	"sync"

	"github.com/hupe1980/lumen/core"
)

// ErrDownstreamClosed is returned by a Recorder once its failure point is reached.
var ErrDownstreamClosed = errors.New("downstream closed")

// Recorder is a downstream that records every written frame. It is safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	frames    [][]byte
	failAfter int
}

// NewRecorder returns a Recorder that accepts every frame.
func NewRecorder() *Recorder { return &Recorder{failAfter: -1} }

// FailAfter makes the recorder reject every write after n accepted frames (chainable).
func (r *Recorder) FailAfter(n int) *Recorder {
	r.mu.Lock()
	r.failAfter = n
	r.mu.Unlock()
	return r
}

// WriteFrame records frame.
func (r *Recorder) WriteFrame(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter >= 0 && len(r.frames) >= r.failAfter {
		return ErrDownstreamClosed
	}
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

// Frames returns the recorded frames.
func (r *Recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// Raw returns every recorded frame concatenated.
func (r *Recorder) Raw() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, f := range r.frames {
		out = append(out, f...)
	}
	return string(out)
}

// Events decodes every recorded frame. Frames that do not decode are
// returned as nil entries so positions stay aligned with Frames.
func (r *Recorder) Events() []core.StreamEvent {
	frames := r.Frames()
	out := make([]core.StreamEvent, len(frames))
	for i, f := range frames {
		ev, err := DecodeFrame(f)
		if err == nil {
			out[i] = ev
		}
	}
	return out
}

// Kinds returns the kinds of the decoded frames; undecodable frames yield "".
func (r *Recorder) Kinds() []core.EventKind {
	evs := r.Events()
	out := make([]core.EventKind, len(evs))
	for i, ev := range evs {
		if ev != nil {
			out[i] = ev.Kind()
		}
	}
	return out
}
