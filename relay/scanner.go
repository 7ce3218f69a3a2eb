package relay

import (
	"bytes"
)

var (
	delimLF   = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
)

// DefaultMaxFrameSize caps the bytes a FrameScanner holds while waiting for
// a delimiter.
const DefaultMaxFrameSize = 1 << 20

// FrameScanner reassembles frames from arbitrarily chunked input. Frames are
// terminated by a blank line; both "\n\n" and "\r\n\r\n" are accepted.
// The zero value is ready to use.
type FrameScanner struct {
	// MaxFrameSize bounds the pending buffer. Once exceeded, the buffered
	// bytes are returned as one raw frame. Zero means DefaultMaxFrameSize.
	MaxFrameSize int

	buf []byte
}

// Feed appends chunk and returns every frame completed by it, without the
// delimiter. Empty frames are skipped.
func (s *FrameScanner) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var frames [][]byte
	for {
		idx, size := nextDelimiter(s.buf)
		if idx < 0 {
			break
		}
		frame := s.buf[:idx]
		s.buf = s.buf[idx+size:]
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		frames = append(frames, bytes.Clone(frame))
	}
	if len(s.buf) > s.maxFrameSize() {
		frames = append(frames, s.buf)
		s.buf = nil
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return frames
}

func (s *FrameScanner) maxFrameSize() int {
	if s.MaxFrameSize > 0 {
		return s.MaxFrameSize
	}
	return DefaultMaxFrameSize
}

// Flush returns the trailing partial frame, if any, and resets the scanner.
func (s *FrameScanner) Flush() []byte {
	rest := s.buf
	s.buf = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	return bytes.TrimRight(rest, "\r\n")
}

// Buffered returns the number of bytes waiting for a delimiter.
func (s *FrameScanner) Buffered() int { return len(s.buf) }

func nextDelimiter(b []byte) (int, int) {
	lf := bytes.Index(b, delimLF)
	crlf := bytes.Index(b, delimCRLF)
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, len(delimLF)
	default:
		return crlf, len(delimCRLF)
	}
}

// Payload extracts the data of an SSE frame. Multiple data lines are joined
// with "\n"; comment lines and other fields are ignored. ok is false when the
// frame carries no data line.
func Payload(frame []byte) (data []byte, ok bool) {
	var parts [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		v := line[len("data:"):]
		v = bytes.TrimPrefix(v, []byte(" "))
		parts = append(parts, v)
	}
	if parts == nil {
		return nil, false
	}
	return bytes.Join(parts, []byte("\n")), true
}
