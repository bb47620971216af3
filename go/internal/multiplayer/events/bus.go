package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind names an event. Lifecycle kinds are produced by the session itself,
// application kinds mirror the "type" field of inbound frames.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindDisconnected    Kind = "disconnected"
	KindReconnectFailed Kind = "reconnect_failed"
	KindError           Kind = "error"
	KindStateUpdate     Kind = "state_update"
	KindMessage         Kind = "message"

	// KindUnrecognized receives every frame whose type is not one of the kinds above,
	// in addition to subscribers of that exact type.
	KindUnrecognized Kind = "*"
)

// Known reports whether k is one of the predefined kinds.
func (k Kind) Known() bool {
	switch k {
	case KindConnected, KindDisconnected, KindReconnectFailed, KindError, KindStateUpdate, KindMessage:
		return true
	default:
		return false
	}
}

// Event is the value delivered to handlers
type Event struct {
	Kind    Kind
	RoomID  string
	Content json.RawMessage // raw "content" of an inbound frame
	Err     error           // set on disconnected, error and reconnect_failed
	Attempt int             // reconnect attempt the event belongs to
	At      time.Time
}

// Handler is invoked synchronously by Emit.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed with Off.
type Subscription struct {
	kind Kind
	id   uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// Bus fans events out to handlers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]entry
	nextID   uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]entry),
	}
}

// On appends handler to the list for kind and returns its subscription.
func (b *Bus) On(kind Kind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], entry{id: b.nextID, handler: handler})
	return Subscription{kind: kind, id: b.nextID}
}

// Off removes the handler registered under sub. Unknown subscriptions are ignored.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[sub.kind]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.kind)
		} else {
			b.handlers[sub.kind] = next
		}
		return
	}
}

// Count returns the number of handlers registered for kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Emit calls every handler registered for ev.Kind in registration order.
// A panicking handler is logged and skipped; it never reaches the caller.
// Handlers may call On, Off and Emit.
func (b *Bus) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	targets := append([]entry(nil), b.handlers[ev.Kind]...)
	if !ev.Kind.Known() && ev.Kind != KindUnrecognized {
		targets = append(targets, b.handlers[KindUnrecognized]...)
	}
	b.mu.RUnlock()

	for _, e := range targets {
		invoke(e, ev)
	}
}

func invoke(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("event", string(ev.Kind)).
				Uint64("subscription", e.id).
				Err(fmt.Errorf("listener panic: %v", r)).
				Msg("event listener failed")
		}
	}()
	e.handler(ev)
}
