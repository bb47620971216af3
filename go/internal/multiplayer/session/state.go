package session

// State is the connection state of a Transport.
type State int

const (
	StateDisconnected State = iota
	StateConnecting         // fetching a credential, then dialing
	StateConnected
	StateReconnecting // waiting on the backoff timer
	StateFailed       // terminal until the next Join
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
