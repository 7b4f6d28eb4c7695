package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventError       EventType = "error"
)

// Event is one lifecycle fact exported to external systems. From and To are
// state names and are empty for error events.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Service    string    `json:"service"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewStateChange builds a state_change event stamped now.
func NewStateChange(service, from, to string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventStateChange,
		Service:    service,
		From:       from,
		To:         to,
		OccurredAt: time.Now().UTC(),
	}
}

// NewError builds an error event stamped now.
func NewError(service, message string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventError,
		Service:    service,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
