// Package events provides the in-process event system used by the runtime.
// Components emit structured events for agent lifecycle changes, tool
// executions, capability checks, and sandboxed command runs. Handlers run
// synchronously on the emitting goroutine; an optional NATS forwarder
// mirrors events to external subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event represents something that happened inside the runtime.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event with a generated ID and the current timestamp.
func NewEvent(eventType, agentID string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String()[:8],
		Type:      eventType,
		AgentID:   agentID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Handler processes an event. Returning an error does not stop delivery
// to other handlers.
type Handler func(event *Event) error
