package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

// Dispatcher fans committed domain events out to the configured sinks
type Dispatcher interface {
	port.EventNotifier

	// Subscribe registers a named handler for one event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a named handler for every event type
	SubscribeAll(name string, handler Handler)

	// Unsubscribe removes every registration carrying name
	Unsubscribe(name string)

	// Dispatch runs all matching handlers in registration order and joins their errors.
	// A failing sink does not stop delivery to the others.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs matching handlers in background goroutines
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns handlers that would receive eventType
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close stops accepting events and waits for in-flight handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers []HandlerInfo
	logger   Logger
	observer DeliveryObserver
	timeout  time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithDeliveryObserver reports every delivery outcome, typically to metrics
func WithDeliveryObserver(o DeliveryObserver) Option {
	return func(d *eventDispatcher) {
		d.observer = o
	}
}

// WithHandlerTimeout bounds each handler invocation
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *eventDispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.register(HandlerInfo{Name: name, EventType: eventType, Handler: handler})
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.register(HandlerInfo{Name: name, Handler: handler, Description: "all event types"})
}

func (d *eventDispatcher) register(info HandlerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Name == "" {
		info.Name = fmt.Sprintf("handler-%d", len(d.handlers))
	}
	d.handlers = append(d.handlers, info)

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", info.EventType.String(),
			"handler_name", info.Name,
		)
	}
}

func (d *eventDispatcher) Unsubscribe(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	filtered := make([]HandlerInfo, 0, len(d.handlers))
	for _, h := range d.handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers = filtered

	if d.logger != nil {
		d.logger.Info("Handler unregistered", "handler_name", name)
	}
}

// Publish hands the event to every sink without blocking the caller.
// The request context is detached so sinks outlive the HTTP request that committed the change.
func (d *eventDispatcher) Publish(ctx context.Context, evt *event.Event) {
	d.DispatchAsync(context.WithoutCancel(ctx), evt)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	handlers := d.matching(evt.Type)

	var errs []error
	for _, info := range handlers {
		if err := d.deliver(ctx, evt, info); err != nil {
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	handlers := d.matching(evt.Type)

	// Close flips closed under the write lock, so no delivery is added once it waits
	d.mu.RLock()
	if d.closed.Load() {
		d.mu.RUnlock()
		if d.logger != nil {
			d.logger.Error("Cannot dispatch async event, dispatcher is closed",
				"event_type", evt.Type.String(),
				"event_id", evt.ID,
			)
		}
		return
	}
	d.wg.Add(len(handlers))
	d.mu.RUnlock()

	for _, info := range handlers {
		go func(h HandlerInfo) {
			defer d.wg.Done()
			_ = d.deliver(ctx, evt, h)
		}(info)
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	handlers := d.matching(eventType)
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}
	return result
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	swapped := d.closed.CompareAndSwap(false, true)
	d.mu.Unlock()
	if !swapped {
		return fmt.Errorf("dispatcher already closed")
	}

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for in-flight deliveries")
	}

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

func (d *eventDispatcher) matching(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []HandlerInfo
	for _, h := range d.handlers {
		if h.EventType == "" || h.EventType == eventType {
			out = append(out, h)
		}
	}
	return out
}

// deliver runs one handler with timeout and panic recovery, then reports the outcome
func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil && d.logger != nil {
			d.logger.Error("Event delivery failed",
				"event_type", evt.Type.String(),
				"event_id", evt.ID,
				"entity_id", evt.EntityID,
				"handler_name", info.Name,
				"error", err.Error(),
			)
		}
		if d.observer != nil {
			d.observer.ObserveDelivery(info.Name, evt, err)
		}
	}()

	return info.Handler(ctx, evt)
}

var _ port.EventNotifier = (*eventDispatcher)(nil)
