package eventing

import (
	"context"
	"log"
	"sync"

	rules "dispatch-ops/internal/rules/domain"
)

// Handler processes one emitted event. Handlers must tolerate being
// called concurrently from independent emitters.
type Handler func(ctx context.Context, eventType string, evctx rules.Context)

// SubscribeAll matches every event type.
const SubscribeAll = "*"

// Bus is a minimal in-process event bus. Emit dispatches synchronously
// on the caller's goroutine; handler panics are recovered and logged so
// nothing ever surfaces back to the emitter.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *log.Logger
}

// NewBus constructs a bus.
func NewBus(logger *log.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type. Use SubscribeAll to
// receive every event.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if b == nil || eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// Emit delivers an event to all matching handlers. The event context is
// cloned per handler so no handler can see another's mutations.
func (b *Bus) Emit(ctx context.Context, eventType string, evctx rules.Context) {
	if b == nil || eventType == "" {
		return
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	handlers = append(handlers, b.handlers[SubscribeAll]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(ctx, handler, eventType, evctx.Clone())
	}
}

func (b *Bus) invoke(ctx context.Context, handler Handler, eventType string, evctx rules.Context) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Printf("eventing: handler panic on %s: %v", eventType, r)
		}
	}()
	handler(ctx, eventType, evctx)
}
