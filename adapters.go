package mdarunner

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
)

// FrameObserver receives the raw (image, event, meta) triple for every
// frame delivered to the signal-relay consumer. Unlike Observer, it is not
// CloudEvents-based: the image is an opaque in-process value that may not
// be JSON-marshalable, so it is handed over directly rather than wrapped
// in a signal.
type FrameObserver interface {
	OnFrame(image Image, event Event, meta map[string]any)
}

type frameReadyPayload struct {
	EventMeta map[string]any `json:"eventMeta,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// signalRelayConsumer is the internal, non-critical consumer described in
// spec.md §4.5: registered unconditionally so frameReady keeps working for
// external observers even though the runner's hot loop only calls
// Dispatcher.Submit. It runs frameReady emission on its own worker thread
// rather than the runner thread (the design resolves spec.md §9's open
// question in favor of removing that work from the hot loop); consequently
// frameReady has no ordering guarantee against other consumers, matching
// §5.
type signalRelayConsumer struct {
	subject *subjectImpl

	mu        sync.Mutex
	observers []FrameObserver
}

func newSignalRelayConsumer(subject *subjectImpl) *signalRelayConsumer {
	return &signalRelayConsumer{subject: subject}
}

// AddFrameObserver registers o to receive every subsequent frame. Safe to
// call before or during a run.
func (c *signalRelayConsumer) AddFrameObserver(o FrameObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *signalRelayConsumer) Setup(Sequence, SummaryMeta) error { return nil }

func (c *signalRelayConsumer) Frame(image Image, event Event, meta map[string]any) error {
	c.subject.emit(context.Background(), EventFrameReady, frameReadyPayload{EventMeta: event.Meta(), Meta: meta})

	c.mu.Lock()
	observers := make([]FrameObserver, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, o := range observers {
		o.OnFrame(image, event, meta)
	}
	return nil
}

func (c *signalRelayConsumer) Finish(Sequence, RunStatus) error { return nil }

// relaySpec builds the ConsumerSpec for the unconditional signal relay.
func relaySpec(subject *subjectImpl) (ConsumerSpec, *signalRelayConsumer) {
	relay := newSignalRelayConsumer(subject)
	return ConsumerSpec{Name: "signal-relay", Consumer: relay, Critical: false}, relay
}

// The method names of the three signals a legacy handler may expose.
const (
	legacySequenceStarted  = "SequenceStarted"
	legacyFrameReady       = "FrameReady"
	legacySequenceFinished = "SequenceFinished"
)

// legacyAdapter wraps an object exposing any of SequenceStarted/FrameReady/
// SequenceFinished (historically with varying arities) as a Consumer.
// spec.md §4.5 / §9: rather than general reflection at every call, the
// adapter tries a bounded sequence of arities (3→2→1→0) once per method and
// caches the arity that worked.
type legacyAdapter struct {
	target any

	mu     sync.Mutex
	cached map[string]int
}

// NewLegacyConsumerSpec wraps target as a critical ConsumerSpec named name.
// target must be non-nil; it is not required to implement all three
// legacy methods.
func NewLegacyConsumerSpec(name string, target any) (ConsumerSpec, error) {
	if target == nil {
		return ConsumerSpec{}, ErrLegacyHandlerNil
	}
	return ConsumerSpec{
		Name:     name,
		Consumer: &legacyAdapter{target: target, cached: make(map[string]int)},
		Critical: true,
	}, nil
}

func (a *legacyAdapter) Setup(sequence Sequence, summaryMeta SummaryMeta) error {
	return a.invoke(legacySequenceStarted, sequence, summaryMeta)
}

func (a *legacyAdapter) Frame(image Image, event Event, meta map[string]any) error {
	return a.invoke(legacyFrameReady, image, event, meta)
}

func (a *legacyAdapter) Finish(sequence Sequence, status RunStatus) error {
	return a.invoke(legacySequenceFinished, sequence, status)
}

// invoke calls method on the wrapped target, trying arities from
// len(fullArgs) down to 0 until one matches the method's parameter count,
// dropping trailing arguments each time. A method the target doesn't
// expose at all is treated as a no-op, per "one or more of".
func (a *legacyAdapter) invoke(method string, fullArgs ...any) error {
	v := reflect.ValueOf(a.target)
	m := v.MethodByName(method)
	if !m.IsValid() {
		return nil
	}
	numIn := m.Type().NumIn()

	a.mu.Lock()
	arity, known := a.cached[method]
	a.mu.Unlock()

	if known {
		return a.call(m, fullArgs, arity)
	}

	for n := len(fullArgs); n >= 0; n-- {
		if n != numIn {
			continue
		}
		err := a.call(m, fullArgs, n)
		a.mu.Lock()
		a.cached[method] = n
		a.mu.Unlock()
		return err
	}
	return fmt.Errorf("%w: %s", ErrNoCompatibleArity, method)
}

func (a *legacyAdapter) call(m reflect.Value, fullArgs []any, arity int) error {
	in := make([]reflect.Value, arity)
	paramTypes := m.Type()
	for i := 0; i < arity; i++ {
		want := paramTypes.In(i)
		arg := fullArgs[i]
		if arg == nil {
			in[i] = reflect.Zero(want)
			continue
		}
		val := reflect.ValueOf(arg)
		if val.Type().AssignableTo(want) {
			in[i] = val
		} else if val.Type().ConvertibleTo(want) {
			in[i] = val.Convert(want)
		} else {
			in[i] = reflect.Zero(want)
		}
	}
	results := m.Call(in)
	for _, r := range results {
		if err, ok := r.Interface().(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// WriterFactory builds a Consumer for an output file path, typically by
// sniffing its extension (e.g. ".ome.tiff", ".zarr") to pick an encoder.
// The core never implements a factory itself; callers supply one backed by
// their own file-format encoders (spec.md's Non-goals explicitly exclude
// file writing from the core).
type WriterFactory func(path string) (Consumer, error)

// CoerceOutputPath maps path to a critical ConsumerSpec using registry,
// keyed by filepath.Ext(path) (including the leading dot).
func CoerceOutputPath(path string, registry map[string]WriterFactory) (ConsumerSpec, error) {
	ext := filepath.Ext(path)
	factory, ok := registry[ext]
	if !ok {
		return ConsumerSpec{}, fmt.Errorf("%w: %q", ErrUnknownOutputExt, ext)
	}
	consumer, err := factory(path)
	if err != nil {
		return ConsumerSpec{}, fmt.Errorf("building writer for %q: %w", path, err)
	}
	return ConsumerSpec{Name: path, Consumer: consumer, Critical: true}, nil
}
