package demo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pymmcore-plus/mdarunner"
)

// jsonEvent is the on-disk shape for one line of a JSON-lines event stream.
type jsonEvent struct {
	MinStartSeconds float64        `json:"minStartSeconds"`
	ResetTimer      bool           `json:"resetTimer"`
	Meta            map[string]any `json:"meta"`
}

// basicEvent adapts jsonEvent to mdarunner.Event. jsonEvent can't implement
// the interface itself since the method names collide with its field names,
// so basicEvent embeds it and defines the methods one level up.
type basicEvent struct{ jsonEvent }

func (e basicEvent) MinStartSeconds() float64 { return e.jsonEvent.MinStartSeconds }
func (e basicEvent) ResetTimer() bool         { return e.jsonEvent.ResetTimer }
func (e basicEvent) Meta() map[string]any     { return e.jsonEvent.Meta }

// JSONLinesEventSource reads one JSON-encoded event per line from r.
type JSONLinesEventSource struct {
	scanner *bufio.Scanner
}

// NewJSONLinesEventSource builds an EventSource over r.
func NewJSONLinesEventSource(r io.Reader) *JSONLinesEventSource {
	return &JSONLinesEventSource{scanner: bufio.NewScanner(r)}
}

func (s *JSONLinesEventSource) Next(ctx context.Context) (mdarunner.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var je jsonEvent
		if err := json.Unmarshal(line, &je); err != nil {
			return nil, false, fmt.Errorf("decoding event line: %w", err)
		}
		return basicEvent{je}, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}
