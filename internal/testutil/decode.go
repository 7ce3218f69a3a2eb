package testutil

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/hupe1980/lumen/core"
)

// DecodeFrame decodes a single "data: <json>" frame.
func DecodeFrame(frame []byte) (core.StreamEvent, error) {
	line := strings.TrimSpace(string(frame))
	if !strings.HasPrefix(line, "data:") {
		return nil, errors.New("not a data frame")
	}
	return core.UnmarshalEvent([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
}

// ReadEvents decodes every data line of an SSE body, skipping lines that do
// not decode.
func ReadEvents(r io.Reader) ([]core.StreamEvent, error) {
	var out []core.StreamEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeFrame(line)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

// Kinds returns the kind of each event.
func Kinds(evs []core.StreamEvent) []core.EventKind {
	out := make([]core.EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind()
	}
	return out
}
