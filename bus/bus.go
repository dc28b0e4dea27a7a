// Package bus provides a synchronous in-process event bus. Handlers
// run inline on the publisher's goroutine; the first handler error
// stops delivery and is returned to the caller. It is the terminal
// consumer of the outbox dispatcher, replaceable by a broker later.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/exp/slices"
)

// TopicAll subscribes a handler to every event type.
const TopicAll = "*"

// Handler processes one delivered event. Handlers must be idempotent
// with respect to repeated delivery of the same externalID.
type Handler func(ctx context.Context, eventType string, payload map[string]any, externalID string) error

// Bus routes published events to handlers subscribed by event type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers handler for eventType. Use TopicAll to receive
// every event. Subscribing is safe at any time, including while
// publishes are in flight.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish delivers the event to all subscribed handlers synchronously,
// in subscription order, and returns the first handler error. A handler
// panic is recovered and reported as an error, so pathological consumer
// code cannot crash the publishing process. Publishing with no
// subscribers is a no-op.
func (b *Bus) Publish(ctx context.Context, eventType string, payload map[string]any, externalID string) error {
	log := logr.FromContextOrDiscard(ctx)

	b.mu.RLock()
	handlers := slices.Clone(b.handlers[eventType])
	if eventType != TopicAll {
		handlers = append(handlers, b.handlers[TopicAll]...)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		log.V(1).Info("bus: no subscribers", "eventType", eventType)
		return nil
	}

	for _, handler := range handlers {
		if err := call(ctx, handler, eventType, payload, externalID); err != nil {
			return err
		}
	}
	return nil
}

func call(ctx context.Context, handler Handler, eventType string, payload map[string]any, externalID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic on %s: %v", eventType, r)
		}
	}()
	return handler(ctx, eventType, payload, externalID)
}
