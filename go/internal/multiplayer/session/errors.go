package session

import "errors"

var (
	// ErrAuthenticationUnavailable means no usable credential could be obtained.
	// It never consumes a reconnect attempt.
	ErrAuthenticationUnavailable = errors.New("session: authentication unavailable")

	// ErrTransportOpen wraps dial failures and drops of an open connection.
	ErrTransportOpen = errors.New("session: transport open failure")

	// ErrServerUnreachable accompanies the first failed connect of a session.
	ErrServerUnreachable = errors.New("session: could not reach multiplayer server")

	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
	ErrDisconnected       = errors.New("session: disconnected")
	ErrMalformedFrame     = errors.New("session: malformed frame")
	ErrInvalidRoom        = errors.New("session: room id is required")
	ErrInvalidMessage     = errors.New("session: invalid outbound message")
)
