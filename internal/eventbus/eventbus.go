// Package eventbus provides a synchronous in-process publish/subscribe bus.
// Every publish fans out to all matching subscribers on the caller's own
// goroutine; a failing subscriber is isolated (logged, counted) and never
// prevents its siblings from running. DispatchSync hands the failures back
// to the publisher as a slice; Publish discards them.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/niyusum/luminescence-sub000/internal/logging"
)

// Event is the canonical envelope carried through the bus. Payload is the
// topic-specific body (for the audit pipeline, the canonical transaction
// payload described in spec.md §6).
type Event struct {
	Topic   string
	Payload any
}

// Handler processes a published event. An error is logged and counted and
// never reaches sibling handlers; it reaches the publisher only through
// DispatchSync's returned slice.
type Handler func(ctx context.Context, event Event) error

// Subscription identifies a registered handler for later Unsubscribe.
type Subscription struct {
	id    uint64
	topic string
}

type registration struct {
	id      uint64
	topic   string
	handler Handler
}

// Bus is a synchronous, topic-keyed, error-isolated publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*registration
	nextID uint64
	log    *logging.Logger

	published int64
	failed    int64
}

// New creates an empty Bus.
func New(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.Default()
	}
	return &Bus{subs: make(map[string][]*registration), log: log}
}

// Subscribe registers handler to run synchronously whenever Publish or
// DispatchSync is called for topic.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := &registration{id: b.nextID, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], reg)

	return Subscription{id: reg.id, topic: topic}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.subs[sub.topic]
	for i, reg := range regs {
		if reg.id == sub.id {
			b.subs[sub.topic] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Publish is an alias for DispatchSync that discards the per-handler error
// slice, for fire-and-forget callers. (The audit logger calls DispatchSync
// directly so it can count publish failures.)
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	b.DispatchSync(ctx, Event{Topic: topic, Payload: payload})
}

// DispatchSync runs every handler subscribed to event.Topic in registration
// order, on the caller's goroutine. A handler's error is isolated: it is
// logged and counted, and does not stop subsequent handlers from running or
// surface to the caller except in the returned slice.
func (b *Bus) DispatchSync(ctx context.Context, event Event) []error {
	b.mu.RLock()
	regs := make([]*registration, len(b.subs[event.Topic]))
	copy(regs, b.subs[event.Topic])
	b.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if err := reg.handler(ctx, event); err != nil {
			wrapped := fmt.Errorf("subscriber %d on topic %q: %w", reg.id, event.Topic, err)
			errs = append(errs, wrapped)
			b.mu.Lock()
			b.failed++
			b.mu.Unlock()
			b.log.WithContext(ctx).WithFields(map[string]interface{}{
				"topic": event.Topic,
			}).WithError(wrapped).Warn("event subscriber failed")
		}
	}

	b.mu.Lock()
	b.published++
	b.mu.Unlock()

	return errs
}

// Stats reports cumulative bus activity.
type Stats struct {
	Published int64
	Failed    int64
	Topics    int
}

// Stats returns a snapshot of cumulative publish/failure counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Published: b.published, Failed: b.failed, Topics: len(b.subs)}
}
