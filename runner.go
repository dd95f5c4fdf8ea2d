package mdarunner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// waitGranularity is how often the event-timing wait loop wakes up to
// recheck cancel/pause/min-start-time, per spec.md §4.1 step b.
const waitGranularity = 5 * time.Millisecond

// sequenceStartedPayload is the JSON body of the sequenceStarted signal.
type sequenceStartedPayload struct {
	SummaryMeta any `json:"summaryMeta,omitempty"`
}

type eventStartedPayload struct {
	MinStartSeconds float64        `json:"minStartSeconds"`
	Meta            map[string]any `json:"meta,omitempty"`
}

type awaitingEventPayload struct {
	RemainingSeconds float64 `json:"remainingSeconds"`
}

type sequenceFinishedPayload struct {
	Report RunReport `json:"report"`
}

// RunOption customizes a single Run call, e.g. to coerce path-based outputs
// or legacy handlers into additional consumers (spec.md §4.5).
type RunOption func(*runOptions)

type runOptions struct {
	extraConsumers []ConsumerSpec
	joinTimeout    time.Duration
}

// WithOutputs appends already-built consumer specs (from CoerceOutputPath,
// NewLegacyConsumerSpec, or hand-written Consumers) to the run.
func WithOutputs(specs ...ConsumerSpec) RunOption {
	return func(o *runOptions) { o.extraConsumers = append(o.extraConsumers, specs...) }
}

// WithJoinTimeout overrides DefaultJoinTimeout for this run's dispatcher close.
func WithJoinTimeout(d time.Duration) RunOption {
	return func(o *runOptions) { o.joinTimeout = d }
}

// Runner owns the event loop, the timing clock, and the pause/cancel
// flags for one run at a time (spec.md §4.1). It is also a Subject:
// register Observers before calling Run to receive lifecycle signals.
type Runner struct {
	*subjectImpl

	logger Logger

	running int32 // atomic bool
	paused  int32 // atomic bool
	canceled int32 // atomic bool, monotonic per run

	timeMu      sync.Mutex
	runStart    time.Time
	pausedAccum time.Duration
	pausedSince time.Time // zero value means "not currently paused"

	relayMu sync.Mutex
	relay   *signalRelayConsumer

	dispatcherMu sync.Mutex
	dispatcher   *Dispatcher
}

// NewRunner builds a Runner that emits its signals with the given
// CloudEvents source identifier (e.g. "mdarunner").
func NewRunner(source string, logger Logger) *Runner {
	l := withLogger(logger)
	return &Runner{subjectImpl: newSubject(source, l), logger: l}
}

// Cancel requests that the run stop at the next safe point. Idempotent and
// safe from any goroutine.
func (r *Runner) Cancel() {
	if atomic.CompareAndSwapInt32(&r.canceled, 0, 1) {
		r.emit(context.Background(), EventSequenceCanceled, nil)
	}
}

func (r *Runner) isCanceled() bool { return atomic.LoadInt32(&r.canceled) == 1 }

// TogglePause flips the paused flag. Accumulates paused wall-clock time so
// SecondsElapsed excludes it. Idempotent toggle, safe from any goroutine.
func (r *Runner) TogglePause() {
	r.timeMu.Lock()
	now := time.Now()
	if atomic.CompareAndSwapInt32(&r.paused, 0, 1) {
		r.pausedSince = now
		r.timeMu.Unlock()
		r.emit(context.Background(), EventSequencePauseToggled, map[string]bool{"paused": true})
		return
	}
	if atomic.CompareAndSwapInt32(&r.paused, 1, 0) {
		if !r.pausedSince.IsZero() {
			r.pausedAccum += now.Sub(r.pausedSince)
			r.pausedSince = time.Time{}
		}
		r.timeMu.Unlock()
		r.emit(context.Background(), EventSequencePauseToggled, map[string]bool{"paused": false})
		return
	}
	r.timeMu.Unlock()
}

func (r *Runner) isPaused() bool { return atomic.LoadInt32(&r.paused) == 1 }

func (r *Runner) IsRunning() bool { return atomic.LoadInt32(&r.running) == 1 }
func (r *Runner) IsPaused() bool  { return r.isPaused() }

// AddFrameObserver registers o to receive every frame's raw (image, event,
// meta) triple for the run currently in progress. A no-op if called before
// any Run has started.
func (r *Runner) AddFrameObserver(o FrameObserver) {
	r.relayMu.Lock()
	relay := r.relay
	r.relayMu.Unlock()
	if relay != nil {
		relay.AddFrameObserver(o)
	}
}

// QueueStatus returns the current per-consumer queue depth and capacity for
// the run in progress, or an empty map if no run is active.
func (r *Runner) QueueStatus() map[string]QueueStatus {
	r.dispatcherMu.Lock()
	dispatcher := r.dispatcher
	r.dispatcherMu.Unlock()
	if dispatcher == nil {
		return map[string]QueueStatus{}
	}
	return dispatcher.QueueStatus()
}

// SecondsElapsed returns monotonic seconds since run start, minus
// accumulated and in-progress paused time.
func (r *Runner) SecondsElapsed() float64 {
	r.timeMu.Lock()
	defer r.timeMu.Unlock()
	return r.elapsedLocked()
}

func (r *Runner) elapsedLocked() float64 {
	if r.runStart.IsZero() {
		return 0
	}
	elapsed := time.Since(r.runStart) - r.pausedAccum
	if !r.pausedSince.IsZero() {
		elapsed -= time.Since(r.pausedSince)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Seconds()
}

// Run drives engine across events, fanning every produced frame out to
// consumers (plus outputs coerced via opts) under policy. It returns
// exactly once, with a RunReport, unless called while already running.
func (r *Runner) Run(ctx context.Context, sequence Sequence, events EventSource, engine Engine, consumers []ConsumerSpec, policy RunPolicy, opts ...RunOption) (RunReport, error) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return RunReport{}, ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&r.running, 0)

	atomic.StoreInt32(&r.canceled, 0)
	atomic.StoreInt32(&r.paused, 0)
	r.timeMu.Lock()
	r.runStart = time.Now()
	r.pausedAccum = 0
	r.pausedSince = time.Time{}
	r.timeMu.Unlock()

	if engine == nil {
		return RunReport{Status: StatusFailed}, ErrEngineNil
	}
	if err := policy.Validate(); err != nil {
		return RunReport{Status: StatusFailed}, err
	}

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	startedAt := time.Now()

	summaryMeta, err := r.setupSequence(ctx, engine, sequence)
	if err != nil {
		report := RunReport{Status: StatusFailed, StartedAt: startedAt, FinishedAt: time.Now()}
		return report, fmt.Errorf("%w: %w", ErrSequenceSetupFailed, err)
	}

	dispatcher := NewDispatcher(policy, r.logger, ro.joinTimeout)
	r.dispatcherMu.Lock()
	r.dispatcher = dispatcher
	r.dispatcherMu.Unlock()
	defer func() {
		r.dispatcherMu.Lock()
		r.dispatcher = nil
		r.dispatcherMu.Unlock()
	}()

	relayConsumerSpec, relay := relaySpec(r.subjectImpl)
	r.relayMu.Lock()
	r.relay = relay
	r.relayMu.Unlock()
	dispatcher.AddConsumer(relayConsumerSpec)
	for _, c := range consumers {
		dispatcher.AddConsumer(c)
	}
	for _, c := range ro.extraConsumers {
		dispatcher.AddConsumer(c)
	}

	// Start does not fail today (see its doc comment); this branch is kept
	// live rather than dropped so the call site doesn't silently assume
	// that invariant.
	if err := dispatcher.Start(ctx, sequence, summaryMeta); err != nil {
		report := RunReport{Status: StatusFailed, StartedAt: startedAt, FinishedAt: time.Now()}
		return report, err
	}

	r.emit(ctx, EventSequenceStarted, sequenceStartedPayload{SummaryMeta: summaryMeta})

	eventSource, err := r.wrapEventSource(ctx, engine, events)
	if err != nil {
		report := RunReport{Status: StatusFailed, StartedAt: startedAt, FinishedAt: time.Now()}
		return r.finish(ctx, dispatcher, sequence, engine, report, fmt.Errorf("%w: %w", ErrEventLoopFailed, err))
	}

	loopErr := r.loop(ctx, eventSource, engine, dispatcher)

	status := StatusCompleted
	switch {
	case loopErr != nil:
		status = StatusFailed
	case r.isCanceled():
		status = StatusCanceled
	}

	report := RunReport{Status: status, StartedAt: startedAt}
	return r.finish(ctx, dispatcher, sequence, engine, report, loopErr)
}

// finish closes the dispatcher, tears down the sequence, emits
// sequenceFinished, and returns the merged report/error.
func (r *Runner) finish(ctx context.Context, dispatcher *Dispatcher, sequence Sequence, engine Engine, report RunReport, loopErr error) (RunReport, error) {
	closeReport, closeErr := dispatcher.Close(ctx, sequence, report.Status)
	closeReport.Status = report.Status
	closeReport.StartedAt = report.StartedAt
	closeReport.FinishedAt = time.Now()
	report = closeReport

	if hooks, ok := engine.(OptionalEngineHooks); ok {
		if err := hooks.TeardownSequence(ctx, sequence); err != nil {
			r.logger.Warn("teardown sequence failed", "error", err)
		}
	}

	r.emit(ctx, EventSequenceFinished, sequenceFinishedPayload{Report: report})

	if loopErr != nil {
		return report, loopErr
	}
	if closeErr != nil {
		return report, closeErr
	}
	return report, nil
}

func (r *Runner) setupSequence(ctx context.Context, engine Engine, sequence Sequence) (SummaryMeta, error) {
	hooks, ok := engine.(OptionalEngineHooks)
	if !ok {
		return nil, nil
	}
	return hooks.SetupSequence(ctx, sequence)
}

func (r *Runner) wrapEventSource(ctx context.Context, engine Engine, events EventSource) (EventSource, error) {
	hooks, ok := engine.(OptionalEngineHooks)
	if !ok {
		return events, nil
	}
	return hooks.EventIterator(ctx, events)
}

// loop implements spec.md §4.1's event-loop algorithm.
func (r *Runner) loop(ctx context.Context, events EventSource, engine Engine, dispatcher *Dispatcher) error {
	r.timeMu.Lock()
	timerRefSeconds := r.elapsedLocked()
	r.timeMu.Unlock()

	for {
		if r.isCanceled() {
			return nil
		}

		event, ok, err := events.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if event.ResetTimer() {
			r.timeMu.Lock()
			timerRefSeconds = r.elapsedLocked()
			r.timeMu.Unlock()
		}

		if canceled := r.awaitStart(ctx, event, timerRefSeconds); canceled {
			return nil
		}

		r.emit(ctx, EventStarted, eventStartedPayload{MinStartSeconds: event.MinStartSeconds(), Meta: event.Meta()})

		if err := engine.SetupEvent(ctx, event); err != nil {
			return err
		}

		iter, err := engine.ExecEvent(ctx, event)
		innerErr := r.runEvent(ctx, event, iter, err, dispatcher)
		r.teardownEvent(ctx, engine, event)

		if innerErr != nil {
			return innerErr
		}
		if r.isCanceled() {
			return nil
		}
	}
}

// awaitStart busy-waits (spec.md §4.1 step b) until the event's
// MinStartSeconds offset (measured from timerRefSeconds) has elapsed,
// servicing pause and returning true immediately if canceled.
func (r *Runner) awaitStart(ctx context.Context, event Event, timerRefSeconds float64) (canceled bool) {
	emitted := false
	for {
		if r.isCanceled() {
			return true
		}
		if ctx.Err() != nil {
			r.Cancel()
			return true
		}

		remaining := event.MinStartSeconds() - (r.SecondsElapsed() - timerRefSeconds)
		if remaining <= 0 {
			return false
		}
		if !emitted {
			r.emit(ctx, EventAwaiting, awaitingEventPayload{RemainingSeconds: remaining})
			emitted = true
		}
		time.Sleep(waitGranularity)
	}
}

// runEvent drains one event's frame iterator through the signaling
// wrapper, decorating and submitting each frame.
func (r *Runner) runEvent(ctx context.Context, event Event, iter FrameIterator, execErr error, dispatcher *Dispatcher) error {
	if execErr != nil {
		return execErr
	}
	if iter == nil {
		return nil
	}

	wrapper := newSignalingWrapper(iter, r.isCanceled, r.isPaused)
	for {
		frame, ok, err := wrapper.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if frame.Meta == nil {
			frame.Meta = make(map[string]any)
		}
		if _, exists := frame.Meta["runner_time_ms"]; !exists {
			frame.Meta["runner_time_ms"] = int64(r.SecondsElapsed() * 1000)
		}
		if frame.Event == nil {
			frame.Event = event
		}

		if err := dispatcher.Submit(frame); err != nil {
			return err
		}
		if dispatcher.ShouldCancel() {
			r.Cancel()
		}
		if r.isCanceled() {
			// Hand SignalCancel to a reversible iterator before the runner
			// stops advancing it; a no-op for a plain FrameIterator.
			wrapper.deliverSignal()
			return nil
		}
	}
}

func (r *Runner) teardownEvent(ctx context.Context, engine Engine, event Event) {
	hooks, ok := engine.(OptionalEngineHooks)
	if !ok {
		return
	}
	if err := hooks.TeardownEvent(ctx, event); err != nil {
		r.logger.Warn("teardown event failed", "error", err)
	}
}
