package session

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to target.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	dialer         *websocket.Dialer
	maxMessageSize int64
}

// NewWebsocketDialer creates a dialer. maxMessageSize limits inbound frames; zero means unlimited.
func NewWebsocketDialer(handshakeTimeout time.Duration, maxMessageSize int64) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		maxMessageSize: maxMessageSize,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	if d.maxMessageSize > 0 {
		conn.SetReadLimit(d.maxMessageSize)
	}
	return conn, nil
}
