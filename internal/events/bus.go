package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives published events. Handlers run synchronously on the publisher's goroutine.
type Handler func(event *Event)

// Bus is an in-process publish/subscribe bus
type Bus struct {
	log    zerolog.Logger
	mu     sync.RWMutex
	nextID uint64
	byType map[EventType]map[uint64]Handler
	all    map[uint64]Handler
}

// NewBus creates an empty event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:    log.With().Str("component", "event_bus").Logger(),
		byType: make(map[EventType]map[uint64]Handler),
		all:    make(map[uint64]Handler),
	}
}

// Subscribe registers a handler for one event type and returns a function that removes it
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.byType[eventType] == nil {
		b.byType[eventType] = make(map[uint64]Handler)
	}
	b.byType[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event type and returns a function that removes it
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers the event to every matching handler.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[event.Type])+len(b.all))
	for _, h := range b.byType[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
