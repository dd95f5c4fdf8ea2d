package mdarunner

import "context"

// signalingWrapper drives a FrameIterator on the engine's behalf, choosing
// a SignalKind to deliver between yields when the iterator is reversible
// (spec.md §4.4). It is created fresh for each event and discarded once the
// iterator is exhausted.
type signalingWrapper struct {
	inner      FrameIterator
	reversible ReversibleFrameIterator
	canceled   func() bool
	paused     func() bool
	started    bool
}

func newSignalingWrapper(inner FrameIterator, canceled, paused func() bool) *signalingWrapper {
	w := &signalingWrapper{inner: inner, canceled: canceled, paused: paused}
	w.reversible, _ = inner.(ReversibleFrameIterator)
	return w
}

// Next advances the wrapped iterator, sending a signal to a reversible
// iterator based on the current cancel/pause state before every advance
// after the first. It returns (frame, true, nil) on a yield, (zero, false,
// nil) on clean exhaustion, and (zero, false, err) if the iterator failed.
func (w *signalingWrapper) Next(ctx context.Context) (Frame, bool, error) {
	if w.started {
		w.deliverSignal()
	}
	w.started = true

	if !w.inner.Advance(ctx) {
		return Frame{}, false, w.inner.Err()
	}
	return w.inner.Frame(), true, nil
}

// deliverSignal computes the signal to send on resumption: cancel takes
// priority over pause, and both are no-ops against a non-reversible
// iterator (the runner simply advances it plainly next time).
func (w *signalingWrapper) deliverSignal() {
	if w.reversible == nil {
		return
	}
	switch {
	case w.canceled():
		w.reversible.Signal(SignalCancel)
	case w.paused():
		w.reversible.Signal(SignalPause)
	default:
		w.reversible.Signal(SignalNone)
	}
}
