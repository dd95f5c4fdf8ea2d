package demo

import (
	"context"

	"github.com/pymmcore-plus/mdarunner"
)

// ReversibleBurstIterator stands in for a hardware-triggered frame burst:
// once started, the instrument would normally run the whole sequence to
// completion, but it accepts a cancel signal between frames and halts the
// sequence early rather than running it out (spec.md §4.4's "hardware-
// sequenced cancel" scenario). Pause is ignored, which engine.go's
// ReversibleFrameIterator doc comment allows: the hardware burst isn't
// software-paced.
type ReversibleBurstIterator struct {
	frames   []mdarunner.Frame
	pos      int
	canceled bool
}

// NewReversibleBurstIterator builds a ReversibleBurstIterator over frames.
func NewReversibleBurstIterator(frames []mdarunner.Frame) *ReversibleBurstIterator {
	return &ReversibleBurstIterator{frames: frames, pos: -1}
}

func (it *ReversibleBurstIterator) Advance(ctx context.Context) bool {
	if it.canceled {
		return false
	}
	it.pos++
	return it.pos < len(it.frames)
}

func (it *ReversibleBurstIterator) Frame() mdarunner.Frame { return it.frames[it.pos] }
func (it *ReversibleBurstIterator) Err() error             { return nil }

// Signal halts the burst on SignalCancel; SignalPause and SignalNone are
// no-ops, since this simulated hardware sequence runs at its own pace.
func (it *ReversibleBurstIterator) Signal(kind mdarunner.SignalKind) {
	if kind == mdarunner.SignalCancel {
		it.canceled = true
	}
}
