package demo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pymmcore-plus/mdarunner"
)

// frameRecord is what JSONLinesConsumer writes per frame: metadata only,
// since the raw image buffer isn't meaningful on a text sink.
type frameRecord struct {
	MinStartSeconds float64        `json:"minStartSeconds"`
	ImageBytes      int            `json:"imageBytes"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// JSONLinesConsumer writes one JSON line per frame to w, flushing at Finish.
// Safe to register as either a critical or non-critical consumer.
type JSONLinesConsumer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewJSONLinesConsumer wraps w for buffered line-delimited JSON output.
func NewJSONLinesConsumer(w io.Writer) *JSONLinesConsumer {
	return &JSONLinesConsumer{w: bufio.NewWriter(w)}
}

func (c *JSONLinesConsumer) Setup(mdarunner.Sequence, mdarunner.SummaryMeta) error { return nil }

func (c *JSONLinesConsumer) Frame(image mdarunner.Image, event mdarunner.Event, meta map[string]any) error {
	rec := frameRecord{Meta: meta}
	if event != nil {
		rec.MinStartSeconds = event.MinStartSeconds()
	}
	if buf, ok := image.([]byte); ok {
		rec.ImageBytes = len(buf)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	enc := json.NewEncoder(c.w)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding frame record: %w", err)
	}
	return nil
}

func (c *JSONLinesConsumer) Finish(mdarunner.Sequence, mdarunner.RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Flush()
}
