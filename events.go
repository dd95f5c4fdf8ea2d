// Package mdarunner implements the concurrent event-driven dispatch core of
// an acquisition engine: a runner that drives a pluggable Engine across a
// stream of Events, fanning each produced Frame out to a set of Consumers
// under an explicit concurrency, backpressure, and error Policy.
package mdarunner

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer receives lifecycle signals emitted by a Runner. Unlike a
// Consumer, an Observer never sees the image itself (frameReady carries
// only the event and frame metadata; see FrameObserver for the raw triple)
// and cannot halt a run.
type Observer interface {
	// OnEvent is called for every signal the observer is subscribed to.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID uniquely identifies this observer for registration bookkeeping.
	ObserverID() string
}

// Subject is implemented by the Runner. Listeners register before calling
// Run; registration after Run has started is still accepted but may miss
// earlier signals.
type Subject interface {
	RegisterObserver(observer Observer, eventTypes ...string) error
	UnregisterObserver(observer Observer) error
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer, for debugging/monitoring.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Signal type constants for the runner's lifecycle CloudEvents (spec §4.1).
const (
	EventSequenceStarted      = "org.mdarunner.sequence.started"
	EventSequencePauseToggled = "org.mdarunner.sequence.pause_toggled"
	EventSequenceCanceled     = "org.mdarunner.sequence.canceled"
	EventSequenceFinished     = "org.mdarunner.sequence.finished"
	EventStarted              = "org.mdarunner.event.started"
	EventAwaiting             = "org.mdarunner.event.awaiting"
	EventFrameReady           = "org.mdarunner.frame.ready"
)

// FunctionalObserver adapts a plain function to the Observer interface, for
// callers who don't want to define a named type.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver builds an Observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string { return f.id }

// newSignal builds a CloudEvent carrying data as its JSON payload, following
// the CloudEvents v1.0 envelope (id/source/type/time/specversion).
func newSignal(eventType, source string, data any) cloudevents.Event {
	evt := cloudevents.NewEvent()
	evt.SetID(newEventID())
	evt.SetSource(source)
	evt.SetType(eventType)
	evt.SetTime(time.Now())
	evt.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = evt.SetData(cloudevents.ApplicationJSON, data)
	}
	return evt
}

// newEventID generates a UUIDv7 identifier, falling back to v4 if the clock
// source for v7 is unavailable.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func validateSignal(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	return nil
}
