package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/events"
)

// rideServer is a minimal room server: it records what riders send and pushes
// one state update to every rider that connects.
type rideServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	received chan string
	queries  chan map[string]string
}

func (s *rideServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	s.queries <- map[string]string{
		"token": r.URL.Query().Get("token"),
		"room":  r.URL.Query().Get("room"),
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"state_update","content":{"power":180,"speed":32.4}}`)); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.received <- string(data)
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	srv := &rideServer{
		t:        t,
		received: make(chan string, 8),
		queries:  make(chan map[string]string, 2),
	}
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	opts := DefaultOptions()
	opts.ServerURL = "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	tr, err := NewTransport(opts, &fakeCredentials{token: "bearer-123"},
		WithDialer(NewWebsocketDialer(2*time.Second, 64*1024)))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Disconnect()

	updates := make(chan events.Event, 1)
	tr.Bus().On(events.KindStateUpdate, func(ev events.Event) { updates <- ev })

	tr.Send(mustChat(t, "hi"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Join(ctx, "room-ABC123"); err != nil {
		t.Fatalf("join: %v", err)
	}

	q := <-srv.queries
	if q["token"] != "bearer-123" || q["room"] != "room-ABC123" {
		t.Fatalf("unexpected query: %v", q)
	}

	select {
	case got := <-srv.received:
		if got != `{"type":"message","content":"hi"}` {
			t.Fatalf("unexpected frame: %s", got)
		}
	case <-ctx.Done():
		t.Fatalf("server never received queued chat")
	}

	select {
	case ev := <-updates:
		if string(ev.Content) != `{"power":180,"speed":32.4}` {
			t.Fatalf("unexpected content: %s", ev.Content)
		}
	case <-ctx.Done():
		t.Fatalf("state update never delivered")
	}

	tr.Send(mustState(t, StatePayload{Power: 210, Speed: 35, Distance: 100, Time: 1000}))
	select {
	case got := <-srv.received:
		if got != `{"type":"state_update","content":{"power":210,"speed":35,"distance":100,"time":1000}}` {
			t.Fatalf("unexpected frame: %s", got)
		}
	case <-ctx.Done():
		t.Fatalf("server never received state update")
	}
}
