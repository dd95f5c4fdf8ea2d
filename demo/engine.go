// Package demo provides a synthetic Engine, EventSource, and Consumer
// implementations used by cmd/mdarun to smoke-test a RunPolicy from the
// shell without real acquisition hardware.
package demo

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/pymmcore-plus/mdarunner"
)

// Engine produces a fixed number of synthetic frames per event, each a small
// byte buffer tagged with the event's index. It implements no optional
// hooks, so NopEngineHooks supplies every one as a no-op.
type Engine struct {
	mdarunner.NopEngineHooks

	FramesPerEvent int
	Width, Height  int
	Seed           int64

	// HardwareSequenced makes ExecEvent return a ReversibleBurstIterator
	// instead of a plain SliceFrameIterator, so a mid-burst Runner.Cancel
	// reaches the simulated hardware sequence as SignalCancel and halts it.
	HardwareSequenced bool

	rng   *rand.Rand
	calls int
}

// NewEngine builds a demo Engine that yields framesPerEvent frames of
// width*height synthetic pixel data per event.
func NewEngine(framesPerEvent, width, height int, seed int64) *Engine {
	return &Engine{
		FramesPerEvent: framesPerEvent,
		Width:          width,
		Height:         height,
		Seed:           seed,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func (e *Engine) SetupEvent(ctx context.Context, event mdarunner.Event) error {
	e.calls++
	return nil
}

func (e *Engine) ExecEvent(ctx context.Context, event mdarunner.Event) (mdarunner.FrameIterator, error) {
	frames := make([]mdarunner.Frame, 0, e.FramesPerEvent)
	for i := 0; i < e.FramesPerEvent; i++ {
		buf := make([]byte, e.Width*e.Height)
		e.rng.Read(buf)
		frames = append(frames, mdarunner.Frame{
			Image: buf,
			Event: event,
			Meta:  map[string]any{"frame_index": i, "call": e.calls},
		})
	}
	if e.HardwareSequenced {
		return NewReversibleBurstIterator(frames), nil
	}
	return mdarunner.NewSliceFrameIterator(frames), nil
}

func (e *Engine) String() string {
	return fmt.Sprintf("demo.Engine(frames=%d, %dx%d)", e.FramesPerEvent, e.Width, e.Height)
}
