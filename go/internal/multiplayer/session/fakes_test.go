package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/velotrain/go/internal/multiplayer/auth"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/events"
)

var errConnClosed = errors.New("fake: connection closed")

// fakeConn is an in-memory connection. Frames pushed with deliver are returned
// by ReadMessage; written frames are recorded.
type fakeConn struct {
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	written   [][]byte
	failWrite bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("fake: write failed")
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.incoming <- []byte(frame)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, f := range c.written {
		out[i] = string(f)
	}
	return out
}

// fakeDialer answers each Dial with the next scripted result; once the script
// is exhausted it fails.
type fakeDialer struct {
	mu      sync.Mutex
	script  []func(ctx context.Context) (Conn, error)
	targets []string
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	var step func(ctx context.Context) (Conn, error)
	if len(d.script) > 0 {
		step = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if step == nil {
		return nil, errors.New("fake: connection refused")
	}
	return step(ctx)
}

func (d *fakeDialer) then(steps ...func(ctx context.Context) (Conn, error)) *fakeDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, steps...)
	return d
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) target(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets[i]
}

func succeed(conn Conn) func(context.Context) (Conn, error) {
	return func(context.Context) (Conn, error) { return conn, nil }
}

// fakeCredentials hands out a fixed token or error and counts calls.
type fakeCredentials struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (c *fakeCredentials) Credential(context.Context) (auth.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return auth.Credential{}, c.err
	}
	return auth.Credential{Token: c.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (c *fakeCredentials) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// recorder collects emitted events per kind.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(bus *events.Bus, kinds ...events.Kind) *recorder {
	r := &recorder{}
	for _, k := range kinds {
		bus.On(k, func(ev events.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
	return r
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) all(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustChat(t *testing.T, text string) OutboundMessage {
	t.Helper()
	msg, err := NewChat(text)
	if err != nil {
		t.Fatalf("new chat: %v", err)
	}
	return msg
}

func mustState(t *testing.T, p StatePayload) OutboundMessage {
	t.Helper()
	msg, err := NewStateUpdate(p)
	if err != nil {
		t.Fatalf("new state update: %v", err)
	}
	return msg
}

func encoded(t *testing.T, msg OutboundMessage) string {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
