package events

import (
	"encoding/json"
	"testing"
)

func TestEmitInvokesHandlersInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var calls []string
	bus.On(KindMessage, func(Event) {
		calls = append(calls, "first")
		panic("boom")
	})
	bus.On(KindMessage, func(Event) {
		calls = append(calls, "second")
	})

	bus.Emit(Event{Kind: KindMessage, Content: json.RawMessage(`"hi"`)})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestEmitOnlyReachesMatchingKind(t *testing.T) {
	bus := NewBus()

	var state, chat int
	var got json.RawMessage
	bus.On(KindStateUpdate, func(ev Event) {
		state++
		got = ev.Content
	})
	bus.On(KindMessage, func(Event) { chat++ })

	payload := json.RawMessage(`{"power":180,"speed":32.4}`)
	bus.Emit(Event{Kind: KindStateUpdate, Content: payload})

	if state != 1 || chat != 0 {
		t.Fatalf("state=%d chat=%d, want 1 and 0", state, chat)
	}
	if string(got) != string(payload) {
		t.Fatalf("content mismatch: %s", got)
	}
}

func TestOffRemovesOnlyThatSubscription(t *testing.T) {
	bus := NewBus()

	var a, b int
	subA := bus.On(KindConnected, func(Event) { a++ })
	bus.On(KindConnected, func(Event) { b++ })

	bus.Off(subA)
	bus.Off(subA)
	bus.Emit(Event{Kind: KindConnected})

	if a != 0 || b != 1 {
		t.Fatalf("a=%d b=%d, want 0 and 1", a, b)
	}
	if bus.Count(KindConnected) != 1 {
		t.Fatalf("unexpected handler count: %d", bus.Count(KindConnected))
	}
}

func TestEmitWithoutHandlersIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Emit(Event{Kind: Kind("lap_completed")})
	bus.Off(Subscription{kind: KindError, id: 42})
}

func TestUnrecognizedKindsReachFallback(t *testing.T) {
	bus := NewBus()

	var exact, fallback []Kind
	bus.On(Kind("room_info"), func(ev Event) { exact = append(exact, ev.Kind) })
	bus.On(KindUnrecognized, func(ev Event) { fallback = append(fallback, ev.Kind) })

	bus.Emit(Event{Kind: Kind("room_info")})
	bus.Emit(Event{Kind: KindMessage})

	if len(exact) != 1 || exact[0] != "room_info" {
		t.Fatalf("unexpected exact deliveries: %v", exact)
	}
	if len(fallback) != 1 || fallback[0] != "room_info" {
		t.Fatalf("unexpected fallback deliveries: %v", fallback)
	}
}

func TestHandlerMayUnsubscribeDuringEmit(t *testing.T) {
	bus := NewBus()

	var calls int
	var sub Subscription
	sub = bus.On(KindDisconnected, func(Event) {
		calls++
		bus.Off(sub)
	})

	bus.Emit(Event{Kind: KindDisconnected})
	bus.Emit(Event{Kind: KindDisconnected})

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}
