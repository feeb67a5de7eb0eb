package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for published verification events.
const (
	EventTypeVerificationStarted   = "verification.started"
	EventTypeVerificationCompleted = "verification.completed"
	EventTypeVerificationCancelled = "verification.cancelled"
)

// Event is an envelope for a message published to the event bus.
type Event struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Metadata      map[string]interface{}
	CreatedAt     time.Time
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// WithMetadata sets the metadata on the event.
func (e *Event) WithMetadata(metadata map[string]interface{}) *Event {
	e.Metadata = metadata
	return e
}

// VerificationStartedPayload is the payload for verification.started events.
type VerificationStartedPayload struct {
	RunID          uuid.UUID `json:"run_id"`
	Label          string    `json:"label,omitempty"`
	ReferenceCount int       `json:"reference_count"`
}

// VerificationCompletedPayload is the payload for verification.completed and
// verification.cancelled events.
type VerificationCompletedPayload struct {
	RunID          uuid.UUID     `json:"run_id"`
	Label          string        `json:"label,omitempty"`
	Status         RunStatus     `json:"status"`
	ReferenceCount int           `json:"reference_count"`
	Summary        Summary       `json:"summary"`
	Duration       time.Duration `json:"duration_ns"`
}
