// Package eventbus broadcasts NewOperation events (spec.md §4.3) to the
// materializer's task-enqueue handler and any other in-process subscriber. It has no durable/distributed component:
// durability lives in the store's persisted task table, not the bus.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Bus dispatches NewOperation events to registered synchronous handlers and
// fans them out to bounded asynchronous subscribers.
type Bus struct {
	mu          sync.RWMutex
	handlers    []Handler
	subscribers []*subscriber
}

type subscriber struct {
	id      int
	ch      chan Event
	dropped bool // true once we've logged at least one drop, so we don't spam
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{}
}

// Register adds a synchronous handler. Handlers run in priority order
// (lower first) inline on the Publish call, so a slow handler blocks
// everything after it — handlers are expected to be fast (e.g. "insert a
// task row") and push real work onto a queue themselves.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unregister removes a handler by ID, returning true if one was removed.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribe registers a bounded broadcast channel. If the channel's buffer
// is full when Publish fans out, that event is dropped for this subscriber
// only — a slow replication session must never block ingestion of new
// operations for everyone else (spec.md §5 bus backpressure policy). The
// returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{id: len(b.subscribers), ch: make(chan Event, bufferSize)}
	b.subscribers = append(b.subscribers, sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s == sub {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish runs every matching handler in priority order, logging (not
// propagating) handler errors, then fans the event out to all bounded
// subscribers without blocking on any of them.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Operation == nil {
		return fmt.Errorf("eventbus: event missing operation")
	}

	b.mu.RLock()
	handlers := sortedHandlers(b.handlers)
	subs := append([]*subscriber(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context canceled: %w", err)
		}
		if err := h.Handle(ctx, &event); err != nil {
			log.Printf("eventbus: handler %q error: %v", h.ID(), err)
		}
	}

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.mu.Lock()
			if !sub.dropped {
				sub.dropped = true
				log.Printf("eventbus: subscriber %d buffer full, dropping event for operation %s", sub.id, event.Operation.ID)
			}
			b.mu.Unlock()
		}
	}
	return nil
}

func sortedHandlers(handlers []Handler) []Handler {
	out := append([]Handler(nil), handlers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}
