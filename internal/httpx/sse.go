package httpx

import (
	"errors"
	"net/http"
	"sync"

	"github.com/hupe1980/lumen/core"
)

// ErrStreamClosed is returned by SSEWriter after Close.
var ErrStreamClosed = errors.New("event stream closed")

// SSEWriter serializes frame writes to one streaming response. Writes may
// come from several goroutines; after Close every write fails, so late
// producers never touch a finished ResponseWriter.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	started bool
}

// NewSSEWriter wraps w. Headers are written on the first frame or Start.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// Start writes the event stream headers and flushes them.
func (s *SSEWriter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *SSEWriter) startLocked() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// WriteFrame writes a pre-encoded frame and flushes it.
func (s *SSEWriter) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.startLocked()
	if _, err := s.w.Write(frame); err != nil {
		s.closed = true
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Send encodes ev and writes it.
func (s *SSEWriter) Send(ev core.StreamEvent) error {
	frame, err := core.EncodeFrame(ev)
	if err != nil {
		return err
	}
	return s.WriteFrame(frame)
}

// Close rejects every later write.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
