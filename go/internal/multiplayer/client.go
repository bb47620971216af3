package multiplayer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/velotrain/go/clients"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/auth"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/events"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/session"
	"github.com/rs/zerolog/log"
)

// RiderState is the telemetry sample shared with the room.
type RiderState = session.StatePayload

// Client is the multiplayer session used by UI code. Construct one per rider
// and pass it to whatever needs it.
type Client struct {
	cfg       Config
	bus       *events.Bus
	transport *session.Transport
}

type clientOptions struct {
	refresher      auth.Refresher
	refreshHeaders map[string]string
	dialer         session.Dialer
	clock          clockwork.Clock
	bus            *events.Bus
}

// Option customizes a Client.
type Option func(*clientOptions)

// WithRefresher replaces the HTTP refresher built from AuthRefreshURL.
func WithRefresher(r auth.Refresher) Option {
	return func(o *clientOptions) { o.refresher = r }
}

// WithRefreshHeaders sets headers (e.g. a session cookie) sent to AuthRefreshURL.
func WithRefreshHeaders(headers map[string]string) Option {
	return func(o *clientOptions) { o.refreshHeaders = headers }
}

func WithDialer(d session.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *clientOptions) { o.clock = c }
}

// WithBus shares an existing event bus.
func WithBus(b *events.Bus) Option {
	return func(o *clientOptions) { o.bus = b }
}

// New creates a client. tokens supplies the rider's bearer token and may be
// nil when a refresh endpoint is configured.
func New(cfg Config, tokens auth.TokenSource, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.bus == nil {
		o.bus = events.NewBus()
	}
	if o.dialer == nil {
		o.dialer = session.NewWebsocketDialer(cfg.HandshakeTimeout, cfg.MaxMessageSize)
	}
	if o.refresher == nil && cfg.AuthRefreshURL != "" {
		authClient := clients.NewAuthClient(cfg.AuthRefreshURL, o.refreshHeaders)
		authClient.SetTimeout(cfg.HandshakeTimeout)
		o.refresher = authClient
	}
	if tokens == nil && o.refresher == nil {
		return nil, errors.New("a token source or auth refresh url is required")
	}

	provider := auth.NewProvider(tokens, o.refresher, o.clock)
	transport, err := session.NewTransport(cfg.TransportOptions(), provider,
		session.WithBus(o.bus),
		session.WithClock(o.clock),
		session.WithDialer(o.dialer),
	)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	return &Client{
		cfg:       cfg,
		bus:       o.bus,
		transport: transport,
	}, nil
}

// JoinRoom connects to roomID. It returns true once the connection is open,
// and false with the reason when authentication fails, reconnects are
// exhausted, Disconnect is called, or ctx ends.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (bool, error) {
	if err := c.transport.Join(ctx, roomID); err != nil {
		return false, err
	}
	return true, nil
}

// SendState shares a telemetry sample. It is queued while the connection is
// not open; only an invalid sample is an error.
func (c *Client) SendState(state RiderState) error {
	msg, err := session.NewStateUpdate(state)
	if err != nil {
		return err
	}
	return c.transport.Send(msg)
}

// SendChat posts a chat message, queued while the connection is not open.
func (c *Client) SendChat(text string) error {
	msg, err := session.NewChat(text)
	if err != nil {
		return err
	}
	return c.transport.Send(msg)
}

// On registers handler for kind. Keep the returned subscription to call Off.
func (c *Client) On(kind events.Kind, handler events.Handler) events.Subscription {
	return c.bus.On(kind, handler)
}

func (c *Client) Off(sub events.Subscription) {
	c.bus.Off(sub)
}

// Disconnect leaves the room and drops anything still queued.
func (c *Client) Disconnect() {
	c.transport.Disconnect()
	log.Debug().Msg("multiplayer client disconnected")
}

func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

func (c *Client) Status() session.Status {
	return c.transport.Status()
}

func (c *Client) Bus() *events.Bus {
	return c.bus
}
