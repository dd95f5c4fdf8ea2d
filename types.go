package mdarunner

import "context"

// Event describes one acquisition step. Implementations carry whatever
// fields their engine needs; the core only reads MinStartSeconds, ResetTimer,
// and Meta. Events have identity by position in the input stream, not by
// any field here.
type Event interface {
	// MinStartSeconds is the earliest wall-clock offset (seconds from run
	// start, or from the last timer reset) at which this event may begin.
	// A zero value means "as soon as possible".
	MinStartSeconds() float64

	// ResetTimer reports whether the event-timer reference should be reset
	// to now before this event's MinStartSeconds is evaluated.
	ResetTimer() bool

	// Meta returns the event's metadata mapping, passed through to the
	// engine untouched. May be nil.
	Meta() map[string]any
}

// EventSource iterates a (possibly unbounded) stream of Events. Both a
// plain slice-backed source and a channel-backed source satisfy this via
// the adapters in eventsource.go.
type EventSource interface {
	// Next blocks until the next event is available, the stream is
	// exhausted (ok=false, err=nil), or ctx is done (err=ctx.Err()).
	Next(ctx context.Context) (event Event, ok bool, err error)
}

// Image is an opaque multi-dimensional numeric buffer. The core never reads
// or mutates it; it is shared by reference across every active consumer
// worker, so consumers must treat it as read-only.
type Image any

// Frame is the (image, event, meta) triple produced by the engine for one
// event. Meta is a mutable map shared read-only by workers once submitted;
// the runner may add a "runner_time_ms" key if the engine didn't set one.
type Frame struct {
	Image Image
	Event Event
	Meta  map[string]any
}

// Sequence is the opaque descriptor for the ordered input to a run. The
// core only passes it through to Engine and Consumer lifecycle calls.
type Sequence any

// SummaryMeta is the opaque value an Engine may return from SetupSequence
// and that is handed to every consumer's Setup.
type SummaryMeta any

// RunStatus is the terminal status of a run, reported exactly once.
type RunStatus string

const (
	StatusCompleted RunStatus = "COMPLETED"
	StatusCanceled  RunStatus = "CANCELED"
	StatusFailed    RunStatus = "FAILED"
)

// Consumer is the capability set every frame sink or observer must satisfy.
// Any method may fail; see worker.go and dispatcher.go for what each
// failure causes under the active Policy.
type Consumer interface {
	Setup(sequence Sequence, summaryMeta SummaryMeta) error
	Frame(image Image, event Event, meta map[string]any) error
	Finish(sequence Sequence, status RunStatus) error
}

// ConsumerSpec registers a Consumer for a run. Name need not be unique to
// the implementation, but is used to key per-consumer reports.
type ConsumerSpec struct {
	Name     string
	Consumer Consumer
	Critical bool
}
