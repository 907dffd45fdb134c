package dispatcher

import (
	"context"

	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

// Handler delivers one domain event to a sink
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name string
	// EventType is empty for handlers subscribed to every event type
	EventType   event.Type
	Handler     Handler
	Description string
}

// DeliveryObserver is told the result of every handler invocation
type DeliveryObserver interface {
	ObserveDelivery(sink string, evt *event.Event, err error)
}
