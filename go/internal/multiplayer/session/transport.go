package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/auth"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CredentialSource yields a credential for one connect attempt.
type CredentialSource interface {
	Credential(ctx context.Context) (auth.Credential, error)
}

// Options holds transport configuration
type Options struct {
	ServerURL            string
	MaxReconnectAttempts int
	Backoff              BackoffConfig
	WriteTimeout         time.Duration
}

// DefaultOptions returns the standard reconnect policy against a local server.
func DefaultOptions() Options {
	return Options{
		ServerURL:            "ws://localhost:8081",
		MaxReconnectAttempts: 5,
		Backoff:              DefaultBackoffConfig(),
		WriteTimeout:         10 * time.Second,
	}
}

// Option customizes a Transport.
type Option func(*Transport)

func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

func WithBus(b *events.Bus) Option {
	return func(t *Transport) { t.bus = b }
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID string
	RoomID    string
	State     State
	Attempts  int
	LastError error
	Queued    int
}

// Transport owns the single connection of one room membership. It runs the
// connect / reconnect state machine and delivers queued messages in order.
//
// Every transition happens under mu. Each connect attempt gets a new epoch;
// callbacks (dial results, read errors, backoff timers) carry the epoch they
// were started with and are ignored once it is stale, so Join and Disconnect
// invalidate anything still in flight.
type Transport struct {
	opts        Options
	credentials CredentialSource
	dialer      Dialer
	bus         *events.Bus
	clock       clockwork.Clock
	id          string
	logger      zerolog.Logger

	mu            sync.Mutex
	state         State
	roomID        string
	attempts      int
	everOpened    bool
	lastError     error
	conn          Conn
	outbox        *Outbox
	epoch         uint64
	timer         clockwork.Timer
	cancelAttempt context.CancelFunc
	waiter        chan error
}

// NewTransport creates a transport in the Disconnected state.
func NewTransport(opts Options, credentials CredentialSource, options ...Option) (*Transport, error) {
	if _, err := BuildTarget(opts.ServerURL, "room", "token"); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if opts.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("max reconnect attempts must be non-negative, got %d", opts.MaxReconnectAttempts)
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}

	id := uuid.New().String()
	t := &Transport{
		opts:        opts,
		credentials: credentials,
		id:          id,
		logger:      log.With().Str("session_id", id).Logger(),
		state:       StateDisconnected,
		outbox:      NewOutbox(),
	}
	for _, opt := range options {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = NewWebsocketDialer(10*time.Second, 64*1024)
	}
	if t.clock == nil {
		t.clock = clockwork.NewRealClock()
	}
	if t.bus == nil {
		t.bus = events.NewBus()
	}
	return t, nil
}

// Bus returns the bus lifecycle events and inbound frames are emitted on.
func (t *Transport) Bus() *events.Bus {
	return t.bus
}

// Join connects to roomID and blocks until the connection is open (nil), the
// session fails, Disconnect is called, or ctx is done. Cancelling ctx only
// stops waiting; the session keeps reconnecting until Disconnect.
func (t *Transport) Join(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}

	t.mu.Lock()
	prev := t.teardownLocked()
	t.roomID = roomID
	t.state = StateConnecting
	t.attempts = 0
	t.everOpened = false
	t.lastError = nil
	waiter := make(chan error, 1)
	t.waiter = waiter
	epoch := t.epoch
	queued := t.outbox.Len()
	t.mu.Unlock()

	if prev != nil {
		prev <- ErrDisconnected
	}

	t.logger.Info().
		Str("room_id", roomID).
		Int("queued", queued).
		Msg("joining room")

	go t.connect(epoch)

	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send transmits msg if the connection is open, otherwise queues it. It only
// fails when msg cannot be encoded.
func (t *Transport) Send(msg OutboundMessage) error {
	if _, err := json.Marshal(msg); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.conn == nil {
		t.outbox.Push(msg)
		t.logger.Debug().
			Str("type", string(msg.Kind)).
			Int("queued", t.outbox.Len()).
			Msg("connection not open, message queued")
		return nil
	}

	if err := t.writeLocked(t.conn, msg); err != nil {
		t.logger.Warn().Err(err).Str("type", string(msg.Kind)).Msg("write failed, message queued")
		t.outbox.Push(msg)
		t.dropConnLocked()
	}
	return nil
}

// Disconnect closes the connection, cancels any pending attempt or backoff
// timer and clears the queue. It is safe to call in any state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	waiter := t.teardownLocked()
	room := t.roomID
	t.roomID = ""
	t.state = StateDisconnected
	t.attempts = 0
	t.lastError = nil
	dropped := t.outbox.Clear()
	t.mu.Unlock()

	if waiter != nil {
		waiter <- ErrDisconnected
	}

	t.logger.Info().
		Str("room_id", room).
		Int("dropped", dropped).
		Msg("disconnected")
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateConnected
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the number of reconnect attempts since the last open.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		SessionID: t.id,
		RoomID:    t.roomID,
		State:     t.state,
		Attempts:  t.attempts,
		LastError: t.lastError,
		Queued:    t.outbox.Len(),
	}
}

// connect runs one attempt: credential, dial, then hand off to opened or
// connectionLost.
func (t *Transport) connect(epoch uint64) {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	t.epoch++
	epoch = t.epoch
	t.timer = nil
	t.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelAttempt = cancel
	room := t.roomID
	attempt := t.attempts
	t.mu.Unlock()
	defer cancel()

	cred, err := t.credentials.Credential(ctx)
	if err != nil {
		t.authFailed(epoch, err)
		return
	}

	target, err := BuildTarget(t.opts.ServerURL, room, cred.Token)
	if err != nil {
		t.connectionLost(epoch, err)
		return
	}

	t.logger.Debug().
		Str("room_id", room).
		Int("attempt", attempt).
		Msg("dialing multiplayer server")

	conn, err := t.dialer.Dial(ctx, target)
	if err != nil {
		t.connectionLost(epoch, err)
		return
	}
	t.opened(epoch, conn)
}

func (t *Transport) opened(epoch uint64, conn Conn) {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.cancelAttempt = nil
	sent, drainErr := t.outbox.Drain(func(msg OutboundMessage) error {
		return t.writeLocked(conn, msg)
	})
	if drainErr != nil {
		t.mu.Unlock()
		_ = conn.Close()
		t.logger.Warn().
			Err(drainErr).
			Int("drained", sent).
			Msg("queue drain failed, remaining messages kept")
		t.connectionLost(epoch, drainErr)
		return
	}
	t.conn = conn
	t.state = StateConnected
	t.attempts = 0
	t.everOpened = true
	t.lastError = nil
	waiter := t.takeWaiterLocked()
	room := t.roomID
	t.mu.Unlock()

	t.logger.Info().
		Str("room_id", room).
		Int("drained", sent).
		Msg("connected to multiplayer server")

	if waiter != nil {
		waiter <- nil
	}
	t.emitIfCurrent(epoch, events.Event{Kind: events.KindConnected, RoomID: room, At: t.clock.Now()})

	go t.readPump(epoch, conn)
}

// readPump delivers inbound frames in arrival order until the connection fails.
func (t *Transport) readPump(epoch uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(epoch, err)
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			t.logger.Warn().Err(err).Int("size", len(data)).Msg("dropping malformed frame")
			continue
		}

		t.mu.Lock()
		current := t.epoch == epoch
		room := t.roomID
		t.mu.Unlock()
		if !current {
			return
		}

		t.logger.Debug().Str("type", frame.Type).Msg("frame received")
		t.bus.Emit(events.Event{
			Kind:    events.Kind(frame.Type),
			RoomID:  room,
			Content: frame.Content,
			At:      t.clock.Now(),
		})
	}
}

// connectionLost handles a failed dial or the drop of an open connection and
// applies the reconnection policy.
func (t *Transport) connectionLost(epoch uint64, cause error) {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	firstFailure := !t.everOpened && t.attempts == 0
	room := t.roomID
	exhausted := t.attempts >= t.opts.MaxReconnectAttempts

	var waiter chan error
	var delay time.Duration
	if exhausted {
		t.state = StateFailed
		t.lastError = fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
		waiter = t.takeWaiterLocked()
	} else {
		t.state = StateReconnecting
		t.lastError = fmt.Errorf("%w: %w", ErrTransportOpen, cause)
		t.attempts++
		delay = NextBackoffDelay(t.opts.Backoff, t.attempts)
	}
	attempt := t.attempts
	lastErr := t.lastError
	t.mu.Unlock()

	if waiter != nil {
		waiter <- lastErr
	}

	t.emitIfCurrent(epoch, events.Event{Kind: events.KindDisconnected, RoomID: room, Err: cause, Attempt: attempt, At: t.clock.Now()})

	if firstFailure {
		t.logger.Warn().Err(cause).Str("room_id", room).Msg("could not reach multiplayer server")
		t.emitIfCurrent(epoch, events.Event{
			Kind:   events.KindError,
			RoomID: room,
			Err:    fmt.Errorf("%w: %w", ErrServerUnreachable, cause),
			At:     t.clock.Now(),
		})
	}

	if exhausted {
		t.logger.Error().
			Err(cause).
			Str("room_id", room).
			Int("max_attempts", t.opts.MaxReconnectAttempts).
			Msg("reconnect attempts exhausted")
		t.emitIfCurrent(epoch, events.Event{Kind: events.KindReconnectFailed, RoomID: room, Err: lastErr, Attempt: attempt, At: t.clock.Now()})
		return
	}

	t.scheduleRetry(epoch, delay, attempt)
}

func (t *Transport) scheduleRetry(epoch uint64, delay time.Duration, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.epoch != epoch || t.state != StateReconnecting {
		return
	}
	t.timer = t.clock.AfterFunc(delay, func() {
		t.connect(epoch)
	})

	t.logger.Info().
		Str("room_id", t.roomID).
		Int("attempt", attempt).
		Int("max_attempts", t.opts.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("scheduled reconnect")
}

// authFailed ends the session without consuming a reconnect attempt.
func (t *Transport) authFailed(epoch uint64, cause error) {
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	reconnecting := t.everOpened || t.attempts > 0
	t.state = StateFailed
	t.lastError = fmt.Errorf("%w: %w", ErrAuthenticationUnavailable, cause)
	lastErr := t.lastError
	room := t.roomID
	attempt := t.attempts
	waiter := t.takeWaiterLocked()
	t.mu.Unlock()

	t.logger.Error().Err(cause).Str("room_id", room).Msg("no usable credential, giving up")

	if waiter != nil {
		waiter <- lastErr
	}
	t.emitIfCurrent(epoch, events.Event{Kind: events.KindError, RoomID: room, Err: lastErr, At: t.clock.Now()})
	if reconnecting {
		t.emitIfCurrent(epoch, events.Event{Kind: events.KindReconnectFailed, RoomID: room, Err: lastErr, Attempt: attempt, At: t.clock.Now()})
	}
}

// emitIfCurrent emits ev unless Join or Disconnect has moved the session past
// epoch, including from a handler of an earlier event of the same transition.
func (t *Transport) emitIfCurrent(epoch uint64, ev events.Event) {
	t.mu.Lock()
	current := t.epoch == epoch
	t.mu.Unlock()
	if current {
		t.bus.Emit(ev)
	}
}

func (t *Transport) writeLocked(conn Conn, msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if t.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	t.logger.Debug().Str("type", string(msg.Kind)).Msg("frame sent")
	return nil
}

// dropConnLocked closes a broken connection. The read pump observes the close
// and runs the reconnection policy; until then new messages are queued.
func (t *Transport) dropConnLocked() {
	if t.conn == nil {
		return
	}
	_ = t.conn.Close()
	t.conn = nil
	t.state = StateDisconnected
}

// teardownLocked invalidates everything in flight and returns the pending
// join waiter, if any, for the caller to resolve after unlocking.
func (t *Transport) teardownLocked() chan error {
	t.epoch++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancelAttempt != nil {
		t.cancelAttempt()
		t.cancelAttempt = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	return t.takeWaiterLocked()
}

func (t *Transport) takeWaiterLocked() chan error {
	w := t.waiter
	t.waiter = nil
	return w
}
