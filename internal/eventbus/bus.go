package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// Handler consumes a published event.
type Handler func(ctx context.Context, event any) error

var (
	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("eventbus: nil event")
	// ErrInvalidEventType is returned when a handler receives an
	// unexpected event type.
	ErrInvalidEventType = errors.New("eventbus: invalid event type")
)

// Bus is a minimal in-process event bus. Handlers run synchronously in
// subscription order; the first handler error is reported after all
// handlers have run.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Publish dispatches an event to every handler subscribed to its type.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := TypeOf(event)

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for an event type name.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// TypeOf returns the fully-qualified type name of an event instance.
func TypeOf(event any) string {
	t := reflect.TypeOf(event)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.String()
}

// TypeFor returns the fully-qualified type name for a type parameter.
func TypeFor[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
