package mdarunner

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// observerRegistration tracks one registered observer and its event-type filter.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // empty set means "all event types"
	registeredAt time.Time
}

// subjectImpl is a small, reusable Subject implementation embedded by Runner.
// Notification is synchronous: each signal reaches every observer before
// emit returns on the emitting goroutine, so signals the runner thread
// emits (sequenceStarted, eventStarted, awaitingEvent) reach observers
// before the work that follows them. frameReady is emitted from the
// signal-relay consumer's worker goroutine instead (see adapters.go) and has
// no ordering guarantee against other consumers; Cancel and TogglePause
// emit from whichever goroutine calls them.
type subjectImpl struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
	logger    Logger
	source    string
}

func newSubject(source string, logger Logger) *subjectImpl {
	return &subjectImpl{
		observers: make(map[string]*observerRegistration),
		logger:    withLogger(logger),
		source:    source,
	}
}

func (s *subjectImpl) RegisterObserver(observer Observer, eventTypes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = true
	}
	s.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   filter,
		registeredAt: time.Now(),
	}
	s.logger.Debug("observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (s *subjectImpl) UnregisterObserver(observer Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, observer.ObserverID())
	return nil
}

func (s *subjectImpl) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := validateSignal(event); err != nil {
		s.logger.Error("invalid signal dropped", "eventType", event.Type(), "error", err)
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, reg := range s.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("observer panicked", "observerID", reg.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()
			if err := reg.observer.OnEvent(ctx, event); err != nil {
				s.logger.Error("observer error", "observerID", reg.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

func (s *subjectImpl) GetObservers() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(s.observers))
	for _, reg := range s.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		info = append(info, ObserverInfo{ID: reg.observer.ObserverID(), EventTypes: types, RegisteredAt: reg.registeredAt})
	}
	return info
}

// emit is a convenience wrapper that builds and delivers a signal in one call.
func (s *subjectImpl) emit(ctx context.Context, eventType string, data any) {
	evt := newSignal(eventType, s.source, data)
	if err := s.NotifyObservers(ctx, evt); err != nil {
		s.logger.Warn("failed to notify observers", "eventType", eventType, "error", err)
	}
}
