package mdarunner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultJoinTimeout bounds how long Close waits for worker goroutines to
// drain before reporting them as stalled, mirroring the teacher's
// scheduler ShutdownTimeout default of 30s.
const DefaultJoinTimeout = 30 * time.Second

// QueueStatus is one entry of Dispatcher.QueueStatus's snapshot.
type QueueStatus struct {
	Pending  int
	Capacity int
}

// specState tracks one registered ConsumerSpec's participation in the run,
// independent of whether it ended up with a live worker.
type specState struct {
	spec   ConsumerSpec
	active bool // has a worker and receives frames
	worker *consumerWorker

	extraMu sync.Mutex
	extra   []string // setup/finish errors not attributable to a worker
}

// Dispatcher runs consumer lifecycle synchronously on the caller's thread
// and fans frame submissions out to one bounded-queue worker per active
// consumer (spec.md §4.2).
type Dispatcher struct {
	policy      RunPolicy
	logger      Logger
	joinTimeout time.Duration

	mu      sync.Mutex
	states  []*specState
	started bool
	closed  bool

	wg sync.WaitGroup

	fatalMu sync.Mutex
	fatal   error

	cancelRequested int32 // atomic bool: set when a critical setup failure escalates to CANCEL
}

// NewDispatcher builds a Dispatcher for policy. joinTimeout <= 0 uses DefaultJoinTimeout.
func NewDispatcher(policy RunPolicy, logger Logger, joinTimeout time.Duration) *Dispatcher {
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &Dispatcher{policy: policy, logger: withLogger(logger), joinTimeout: joinTimeout}
}

// AddConsumer registers spec. Must be called before Start.
func (d *Dispatcher) AddConsumer(spec ConsumerSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, &specState{spec: spec})
}

// Start runs every registered consumer's Setup synchronously in
// registration order, then spawns one worker goroutine per surviving
// consumer.
//
// Start's error return currently never fires: per spec.md §7, a setup
// failure is resolved entirely through the per-consumer policy switch
// below (exclude-and-record, or exclude-and-request-cancel), and a RAISE
// failure is captured as fatal but deferred to Close, matching Close's own
// error return. The signature is kept symmetric with Close rather than
// collapsed to no return value, since a future setup precondition (e.g. a
// context already canceled before any consumer runs) would have a genuine
// caller-facing error to report here.
func (d *Dispatcher) Start(ctx context.Context, sequence Sequence, summaryMeta SummaryMeta) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, st := range d.states {
		err := st.spec.Consumer.Setup(sequence, summaryMeta)
		if err == nil {
			st.active = true
			continue
		}

		wrapped := fmt.Errorf("%w: consumer %q: %w", ErrConsumerSetupFailed, st.spec.Name, err)
		if st.spec.Critical {
			switch d.policy.CriticalError {
			case CriticalRaise:
				d.setFatal(wrapped)
				st.active = false
			case CriticalCancel:
				atomic.StoreInt32(&d.cancelRequested, 1)
				st.appendExtra(err)
				st.active = false
			case CriticalContinue:
				st.appendExtra(err)
				st.active = false
			}
		} else {
			switch d.policy.NonCriticalError {
			case NonCriticalLog:
				d.logger.Warn("consumer setup error", "consumer", st.spec.Name, "error", err)
				st.appendExtra(err)
				st.active = true // retained per spec: frames may still be delivered
			case NonCriticalDisconnect:
				st.appendExtra(err)
				st.active = false
			}
		}
	}

	for _, st := range d.states {
		if !st.active {
			continue
		}
		st.worker = newConsumerWorker(st.spec, d.policy, d.logger, &d.wg)
		d.wg.Add(1)
		st.worker.start(ctx)
	}

	d.started = true
	return nil
}

// Submit hands frame to every active worker's queue per the backpressure
// policy. A FAIL-policy queue-full error is returned to the caller, as is
// ErrDispatcherClosed if Close has already run.
func (d *Dispatcher) Submit(frame Frame) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	states := make([]*specState, len(d.states))
	copy(states, d.states)
	d.mu.Unlock()

	for _, st := range states {
		if !st.active || st.worker == nil {
			continue
		}
		if err := st.worker.submit(frame); err != nil {
			return err
		}
	}
	return nil
}

// ShouldCancel reports whether any active critical worker has requested
// cancellation (CriticalCancel after a frame failure) or whether a critical
// setup failure already escalated to cancel.
func (d *Dispatcher) ShouldCancel() bool {
	if atomic.LoadInt32(&d.cancelRequested) == 1 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, st := range d.states {
		if st.active && st.worker != nil && st.worker.shouldCancel() {
			return true
		}
	}
	return false
}

// QueueStatus returns a snapshot of every active consumer's queue depth and capacity.
func (d *Dispatcher) QueueStatus() map[string]QueueStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]QueueStatus, len(d.states))
	for _, st := range d.states {
		if !st.active || st.worker == nil {
			continue
		}
		pending, capacity := st.worker.queueStatus()
		out[st.spec.Name] = QueueStatus{Pending: pending, Capacity: capacity}
	}
	return out
}

// Close enqueues STOP on every active worker, joins them with a bounded
// wait, calls every consumer's Finish synchronously (same error-handling
// matrix as Start), and returns the aggregated RunReport. If a fatal error
// was captured anywhere and the critical-error policy is RAISE, Close
// returns that error (with the report still populated, for callers that
// want it).
func (d *Dispatcher) Close(ctx context.Context, sequence Sequence, status RunStatus) (RunReport, error) {
	d.mu.Lock()
	d.closed = true
	states := make([]*specState, len(d.states))
	copy(states, d.states)
	d.mu.Unlock()

	for _, st := range states {
		if st.active && st.worker != nil {
			st.worker.sendStop()
		}
	}

	var stalled []string
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.joinTimeout):
		d.logger.Warn("worker join timed out", "error", ErrWorkerJoinTimeout, "timeout", d.joinTimeout)
		for _, st := range states {
			if st.active && st.worker != nil {
				select {
				case <-st.worker.done:
				default:
					stalled = append(stalled, st.spec.Name)
				}
			}
		}
	}

	for _, st := range states {
		err := st.spec.Consumer.Finish(sequence, status)
		if err == nil {
			continue
		}
		wrapped := fmt.Errorf("%w: consumer %q: %w", ErrConsumerFinishFailed, st.spec.Name, err)
		if st.spec.Critical {
			switch d.policy.CriticalError {
			case CriticalRaise:
				d.setFatal(wrapped)
			case CriticalCancel, CriticalContinue:
				st.appendExtra(err)
			}
		} else {
			switch d.policy.NonCriticalError {
			case NonCriticalLog:
				d.logger.Warn("consumer finish error", "consumer", st.spec.Name, "error", err)
				st.appendExtra(err)
			case NonCriticalDisconnect:
				st.appendExtra(err)
			}
		}
	}

	report := RunReport{Status: status, Stalled: stalled}
	for _, st := range states {
		var cr ConsumerReport
		if st.worker != nil {
			cr = st.worker.report()
		} else {
			cr = ConsumerReport{Name: st.spec.Name}
		}
		cr.Errors = append(cr.Errors, st.snapshotExtra()...)
		report.ConsumerReports = append(report.ConsumerReports, cr)
	}

	fatal := d.getFatal()
	if fatal == nil {
		for _, st := range states {
			if st.worker != nil {
				if werr := st.worker.getFatal(); werr != nil {
					fatal = werr
					break
				}
			}
		}
	}

	if fatal != nil && d.policy.CriticalError == CriticalRaise {
		return report, fatal
	}
	return report, nil
}

func (st *specState) appendExtra(err error) {
	st.extraMu.Lock()
	defer st.extraMu.Unlock()
	st.extra = append(st.extra, err.Error())
}

func (st *specState) snapshotExtra() []string {
	st.extraMu.Lock()
	defer st.extraMu.Unlock()
	out := make([]string, len(st.extra))
	copy(out, st.extra)
	return out
}

func (d *Dispatcher) setFatal(err error) {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	if d.fatal == nil {
		d.fatal = err
	}
}

func (d *Dispatcher) getFatal() error {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	return d.fatal
}

