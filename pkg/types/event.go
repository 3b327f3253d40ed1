package types

import "time"

// EventType enumerates the bus topics a subscriber can filter on.
type EventType string

const (
	EventTypeTaskCreated      EventType = "task.created"
	EventTypeTaskUpdated      EventType = "task.updated"
	EventTypeTaskStatusChanged EventType = "task.status_changed"
	EventTypeSLAWarning       EventType = "sla.warning"
	EventTypeSLAOverdue       EventType = "sla.overdue"
	EventTypeMetricsUpdated   EventType = "metrics.updated"
	EventTypeChainUpdated     EventType = "chain.updated"
	EventTypePhaseCompleted   EventType = "phase.completed"
)

// Event is an immutable, append-only record published to the bus. EventID
// is monotonically increasing so subscribers can resume from a cursor.
type Event struct {
	EventID       uint64      `json:"event_id" db:"event_id"`
	Type          EventType   `json:"type" db:"type"`
	Timestamp     time.Time   `json:"timestamp" db:"timestamp"`
	Payload       interface{} `json:"payload" db:"payload"`
	CorrelationID string      `json:"correlation_id" db:"correlation_id"`
	Schema        string      `json:"schema" db:"schema"`
}

// NewEvent stamps Schema to the current wire version ("v1" per spec.md §6
// "Event payloads are versioned ... and additively evolved").
func NewEvent(eventID uint64, eventType EventType, timestamp time.Time, correlationID string, payload interface{}) Event {
	return Event{
		EventID:       eventID,
		Type:          eventType,
		Timestamp:     timestamp,
		Payload:       payload,
		CorrelationID: correlationID,
		Schema:        "v1",
	}
}
