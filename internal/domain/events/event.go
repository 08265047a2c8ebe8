package events

import "time"

// DomainEvent encapsulates one normalized record of the run history, providing
// a standardized format for downstream storage and notification.
type DomainEvent struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Timestamp records when the underlying state transition happened,
	// in workflow time (the controller log's clock), not wall-clock time.
	Timestamp time.Time

	// Fields contain the flat key-value payload of the event. The key
	// vocabulary is a compatibility surface shared with the sink schema.
	Fields map[string]any
}

// New constructs a DomainEvent with its own copy of the field map so callers
// can keep mutating theirs.
func New(eventType EventType, ts time.Time, fields map[string]any) DomainEvent {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return DomainEvent{Type: eventType, Timestamp: ts, Fields: copied}
}
