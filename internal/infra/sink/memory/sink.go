// Package memory provides an in-process event sink. It backs tests and the
// "none" configuration where normalized events are tracked but not persisted.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/dagwatch/internal/domain/events"
)

// Sink captures every event in order. Safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	events []events.DomainEvent
	err    error
	closed bool
}

// New creates an empty sink.
func New() *Sink { return &Sink{} }

var _ events.EventSink = (*Sink)(nil)

// Send records the event, or returns the injected failure.
func (s *Sink) Send(ctx context.Context, eventType events.EventType, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events.New(eventType, time.Now(), fields))
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of everything sent so far.
func (s *Sink) Events() []events.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}

// TypeSequence returns just the event types, in send order.
func (s *Sink) TypeSequence() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// FailWith makes every subsequent Send return err. Pass nil to heal.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
