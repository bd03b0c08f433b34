package event

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// AllEvents subscribes a handler to every event name
const AllEvents = "*"

// EventHandler handles domain events
type EventHandler interface {
	Handle(event DomainEvent) error
	HandledEvents() []string
}

// EventDispatcher dispatches domain events to registered handlers
type EventDispatcher interface {
	Dispatch(event DomainEvent)
	Subscribe(handler EventHandler)
	Unsubscribe(handler EventHandler)
}

// InMemoryDispatcher delivers events synchronously, in subscription order.
// A failing or panicking handler is logged and does not stop delivery to
// the others, so an observer can never take the engine down.
type InMemoryDispatcher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher
func NewInMemoryDispatcher(logger *zap.Logger) *InMemoryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryDispatcher{
		logger:   logger,
		handlers: make(map[string][]EventHandler),
	}
}

// Dispatch sends an event to the handlers registered for its name, then to
// the catch-all handlers
func (d *InMemoryDispatcher) Dispatch(event DomainEvent) {
	name := event.EventName()

	d.mu.RLock()
	targets := slices.Concat(d.handlers[name], d.handlers[AllEvents])
	d.mu.RUnlock()

	for _, h := range targets {
		if err := d.deliver(h, event); err != nil {
			d.logger.Warn("event handler failed",
				zap.String("event", name),
				zap.Error(err),
			)
		}
	}
}

func (d *InMemoryDispatcher) deliver(h EventHandler, event DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(event)
}

// Subscribe registers a handler for the events it declares
func (d *InMemoryDispatcher) Subscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range handler.HandledEvents() {
		d.handlers[name] = append(d.handlers[name], handler)
	}
}

// Unsubscribe removes a handler from every event it declared
func (d *InMemoryDispatcher) Unsubscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range handler.HandledEvents() {
		d.handlers[name] = slices.DeleteFunc(slices.Clone(d.handlers[name]), func(h EventHandler) bool {
			return h == handler
		})
	}
}

// HandlerFunc adapts a function into an EventHandler for the given events
type HandlerFunc struct {
	Events []string
	Fn     func(DomainEvent)
}

// Handle calls the wrapped function
func (h *HandlerFunc) Handle(event DomainEvent) error {
	h.Fn(event)
	return nil
}

// HandledEvents returns the configured event names
func (h *HandlerFunc) HandledEvents() []string {
	return h.Events
}
