package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event emitted after a transition commits
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	EntityID      string                 `json:"entity_id"`
	EntityType    string                 `json:"entity_type"`
	Transition    string                 `json:"transition,omitempty"`
	FromStatus    string                 `json:"from_status,omitempty"`
	ToStatus      string                 `json:"to_status,omitempty"`
	ActorID       string                 `json:"actor_id"`
	ActorRole     string                 `json:"actor_role"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and correlation ID
func NewEvent(eventType Type, entityID, entityType string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, entityID, entityType, payload, uuid.New().String())
}

// NewEventWithCorrelation creates an event linked to a correlation chain (the transition attempt id)
func NewEventWithCorrelation(eventType Type, entityID, entityType string, payload map[string]interface{}, correlationID string) *Event {
	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		EntityID:      entityID,
		EntityType:    entityType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// WithTransition returns a copy of the event describing the status change
func (e *Event) WithTransition(transition, from, to string) *Event {
	c := e.clone()
	c.Transition = transition
	c.FromStatus = from
	c.ToStatus = to
	return c
}

// WithActor returns a copy of the event attributed to the given actor
func (e *Event) WithActor(actorID, actorRole string) *Event {
	c := e.clone()
	c.ActorID = actorID
	c.ActorRole = actorRole
	return c
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	c := e.clone()
	c.Payload[key] = value
	return c
}

// WithTimestamp returns a copy stamped at ts
func (e *Event) WithTimestamp(ts time.Time) *Event {
	c := e.clone()
	c.Timestamp = ts
	return c
}

func (e *Event) clone() *Event {
	c := *e
	c.Payload = make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
