// Package events provides the normalized event model for communicating
// workflow state changes to downstream consumers in a decoupled way.
package events

import "context"

// EventSink receives normalized events for durable storage. It provides a
// technology-agnostic boundary so the tracking engine never depends on the
// sink's wire format.
//
// A sink error is fail-open for the run: the caller logs it once loudly and
// stops sending, while state tracking and the replay log continue untouched.
type EventSink interface {
	// Send delivers one event with its flat key-value payload.
	Send(ctx context.Context, eventType EventType, fields map[string]any) error

	// Close flushes and releases the sink's resources.
	Close() error
}
