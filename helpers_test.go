package mdarunner

import (
	"context"
	"sync"
)

// fakeConsumer is a scriptable Consumer for tests: it records every call and
// can be told to fail on one specific frame index.
type fakeConsumer struct {
	mu sync.Mutex

	failFrame int // -1 means never fail
	frames    []Frame
	setups    int
	finishes  int
	finishErr error
	setupErr  error
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{failFrame: -1}
}

func (c *fakeConsumer) Setup(Sequence, SummaryMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setups++
	return c.setupErr
}

func (c *fakeConsumer) Frame(image Image, event Event, meta map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.frames)
	c.frames = append(c.frames, Frame{Image: image, Event: event, Meta: meta})
	if c.failFrame >= 0 && idx == c.failFrame {
		return errFakeFrame
	}
	return nil
}

func (c *fakeConsumer) Finish(Sequence, RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishes++
	return c.finishErr
}

func (c *fakeConsumer) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

var errFakeFrame = errTestSentinel("fake frame failure")

type errTestSentinel string

func (e errTestSentinel) Error() string { return string(e) }

// fakeEvent is a minimal Event for tests.
type fakeEvent struct {
	minStart float64
	reset    bool
	meta     map[string]any
}

func (e fakeEvent) MinStartSeconds() float64 { return e.minStart }
func (e fakeEvent) ResetTimer() bool         { return e.reset }
func (e fakeEvent) Meta() map[string]any     { return e.meta }

// fakeFrameIterator adapts a slice of images to FrameIterator for a single event.
type fakeFrameIterator struct {
	images []Image
	event  Event
	pos    int
}

func newFakeFrameIterator(event Event, n int) *fakeFrameIterator {
	images := make([]Image, n)
	for i := range images {
		images[i] = i
	}
	return &fakeFrameIterator{images: images, event: event, pos: -1}
}

func (it *fakeFrameIterator) Advance(ctx context.Context) bool {
	it.pos++
	return it.pos < len(it.images)
}

func (it *fakeFrameIterator) Frame() Frame {
	return Frame{Image: it.images[it.pos], Event: it.event, Meta: map[string]any{}}
}

func (it *fakeFrameIterator) Err() error { return nil }

// fakeEngine drives framesPerEvent frames per event with no setup/exec failures.
type fakeEngine struct {
	NopEngineHooks
	framesPerEvent int
}

func (e *fakeEngine) SetupEvent(ctx context.Context, event Event) error { return nil }

func (e *fakeEngine) ExecEvent(ctx context.Context, event Event) (FrameIterator, error) {
	return newFakeFrameIterator(event, e.framesPerEvent), nil
}
