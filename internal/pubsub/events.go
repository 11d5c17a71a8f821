package pubsub

import "context"

// EventType tags what happened to the published payload.
type EventType string

const (
	EventTypeUpdated EventType = "updated"
	EventTypeClosed  EventType = "closed"
)

// Event wraps a payload published on a Broker.
type Event[T any] struct {
	Type    EventType `json:"type"`
	Payload T         `json:"payload"`
}

// Subscriber is implemented by anything that hands out event channels.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
