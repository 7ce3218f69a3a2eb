package relay

import (
	"errors"
	"io"

	"github.com/hupe1980/lumen/core"
)

// ReadEvents decodes every event frame of an SSE body until EOF. Frames
// without a decodable event are skipped. The events read so far are
// returned with any read error.
func ReadEvents(r io.Reader) ([]core.StreamEvent, error) {
	var (
		scanner FrameScanner
		events  []core.StreamEvent
	)
	decode := func(frame []byte) {
		payload, ok := Payload(frame)
		if !ok {
			return
		}
		if ev, err := core.UnmarshalEvent(payload); err == nil {
			events = append(events, ev)
		}
	}

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for _, frame := range scanner.Feed(buf[:n]) {
			decode(frame)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if frame := scanner.Flush(); frame != nil {
					decode(frame)
				}
				return events, nil
			}
			return events, err
		}
	}
}
