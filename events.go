package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event types emitted by the kernel, in reverse domain notation.
const (
	EventTypeBeanStarted    = "com.kernel.bean.started"
	EventTypeBeanFailed     = "com.kernel.bean.failed"
	EventTypeBeanStopped    = "com.kernel.bean.stopped"
	EventTypeUnitDeployed   = "com.kernel.unit.deployed"
	EventTypeUnitFailed     = "com.kernel.unit.failed"
	EventTypeUnitUndeployed = "com.kernel.unit.undeployed"
)

// eventSource is the CloudEvents source of every kernel event.
const eventSource = "kernel"

// Observer is notified of kernel lifecycle events.
type Observer interface {
	// OnEvent handles one event. It runs on its own goroutine and should
	// return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID identifies the observer for registration.
	ObserverID() string
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer calling handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// subject fans events out to registered observers.
type subject struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
	logger    Logger
}

func newSubject(logger Logger) *subject {
	return &subject{observers: make(map[string]*observerRegistration), logger: logger}
}

func (s *subject) register(o Observer, eventTypes ...string) {
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	s.mu.Lock()
	s.observers[o.ObserverID()] = &observerRegistration{observer: o, eventTypes: types, registeredAt: time.Now()}
	s.mu.Unlock()
	s.logger.Debug("Observer registered", "observerID", o.ObserverID(), "eventTypes", eventTypes)
}

func (s *subject) unregister(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, o.ObserverID())
}

func (s *subject) info() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ObserverInfo, 0, len(s.observers))
	for id, r := range s.observers {
		types := make([]string, 0, len(r.eventTypes))
		for t := range r.eventTypes {
			types = append(types, t)
		}
		out = append(out, ObserverInfo{ID: id, EventTypes: types, RegisteredAt: r.registeredAt})
	}
	return out
}

// notify delivers event to every interested observer asynchronously.
func (s *subject) notify(ctx context.Context, event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.observers {
		if len(r.eventTypes) > 0 && !r.eventTypes[event.Type()] {
			continue
		}
		go func() {
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("Observer panicked", "observerID", r.observer.ObserverID(), "event", event.Type(), "panic", p)
				}
			}()
			if err := r.observer.OnEvent(ctx, event); err != nil {
				s.logger.Error("Observer error", "observerID", r.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

// emit builds and delivers an event. Delivery never blocks activation.
func (s *subject) emit(ctx context.Context, eventType string, data any, metadata map[string]any) {
	event := NewCloudEvent(eventType, eventSource, data, metadata)
	if err := s.notify(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("Failed to notify observers", "event", eventType, "error", err)
	}
}

// NewCloudEvent creates a CloudEvent with a time-ordered id.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for k, v := range metadata {
		event.SetExtension(k, v)
	}
	return event
}

// newID returns a time-ordered UUIDv7, falling back to v4. It identifies
// events and units.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// BeanEvent is the data of bean events.
type BeanEvent struct {
	Bean   string `json:"bean"`
	Unit   string `json:"unit,omitempty"`
	Source string `json:"source,omitempty"`
	Phase  Phase  `json:"phase,omitempty"`
	Error  string `json:"error,omitempty"`
}

// UnitEvent is the data of unit events.
type UnitEvent struct {
	Unit   string   `json:"unit"`
	Source string   `json:"source"`
	Beans  []string `json:"beans,omitempty"`
	Failed []string `json:"failed,omitempty"`
	Error  string   `json:"error,omitempty"`
}
