package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds configuration for the NATS connection
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "rides",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Envelope is the payload published for each relayed frame.
type Envelope struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Relay mirrors application frames from a room onto NATS subjects
// <prefix>.<room>.<type> so recorders can follow a ride without joining it.
type Relay struct {
	pub    Publisher
	prefix string
	nc     *nats.Conn

	mu   sync.Mutex
	bus  *events.Bus
	subs []events.Subscription
}

// New creates a relay publishing through pub.
func New(pub Publisher, prefix string) *Relay {
	if prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	return &Relay{pub: pub, prefix: prefix}
}

// Connect dials NATS and returns a relay that owns the connection.
func Connect(cfg Config) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("velotrain-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	r := New(nc, cfg.SubjectPrefix)
	r.nc = nc
	return r, nil
}

// Attach starts relaying state_update and message events from bus.
func (r *Relay) Attach(bus *events.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked()
	r.bus = bus
	for _, kind := range []events.Kind{events.KindStateUpdate, events.KindMessage} {
		r.subs = append(r.subs, bus.On(kind, r.publish))
	}
}

// Detach stops relaying.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked()
}

// Close detaches and drains the owned NATS connection, if any.
func (r *Relay) Close() {
	r.Detach()
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
}

func (r *Relay) detachLocked() {
	if r.bus == nil {
		return
	}
	for _, sub := range r.subs {
		r.bus.Off(sub)
	}
	r.subs = nil
	r.bus = nil
}

func (r *Relay) publish(ev events.Event) {
	env := Envelope{
		ID:         uuid.New().String(),
		RoomID:     ev.RoomID,
		Type:       string(ev.Kind),
		Content:    ev.Content,
		ReceivedAt: ev.At,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("failed to marshal relay envelope")
		return
	}

	subject := Subject(r.prefix, ev.RoomID, ev.Kind)
	if err := r.pub.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to relay frame")
		return
	}
	log.Debug().Str("subject", subject).Msg("frame relayed")
}

// Subject builds <prefix>.<room>.<kind>, replacing characters NATS treats as
// separators or wildcards.
func Subject(prefix string, roomID string, kind events.Kind) string {
	return prefix + "." + token(roomID) + "." + token(string(kind))
}

func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
