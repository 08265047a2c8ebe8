// Package file provides the durable event sink: one JSON document per line,
// appended to a file in the run directory. It is the normalized history a
// downstream loader replays into a database.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ahrav/dagwatch/internal/domain/events"
)

// Sink appends newline-delimited JSON events. Safe for concurrent use by the
// per-workflow goroutines sharing one event file.
type Sink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// New opens (or creates) the event file for appending.
func New(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event file %s: %w", path, err)
	}
	return &Sink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

var _ events.EventSink = (*Sink)(nil)

// envelope is the on-disk event shape.
type envelope struct {
	Event  events.EventType `json:"event"`
	SentAt time.Time        `json:"sent_at"`
	Fields map[string]any   `json:"fields"`
}

// Send appends one event line and flushes it.
func (s *Sink) Send(ctx context.Context, eventType events.EventType, fields map[string]any) error {
	data, err := json.Marshal(envelope{Event: eventType, SentAt: time.Now().UTC(), Fields: fields})
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", eventType, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending event to %s: %w", s.path, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flushing event file %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the event file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("flushing event file %s: %w", s.path, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("closing event file %s: %w", s.path, err)
	}
	return nil
}
