package demo

import (
	"fmt"
	"os"

	"github.com/pymmcore-plus/mdarunner"
)

// WriterRegistry returns the WriterFactory set this package supports, keyed
// by output file extension, for use with mdarunner.CoerceOutputPath.
func WriterRegistry() map[string]mdarunner.WriterFactory {
	return map[string]mdarunner.WriterFactory{
		".jsonl": newJSONLinesWriterFactory,
	}
}

func newJSONLinesWriterFactory(path string) (mdarunner.Consumer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %q: %w", path, err)
	}
	return NewJSONLinesConsumer(f), nil
}
