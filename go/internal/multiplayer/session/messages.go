package session

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// MessageKind is the "type" of an outbound frame.
type MessageKind string

const (
	MessageStateUpdate MessageKind = "state_update"
	MessageChat        MessageKind = "message"
)

// wsPath is appended to the server URL when missing.
const wsPath = "/ws"

// StatePayload is a rider telemetry sample.
type StatePayload struct {
	Power    float64 `json:"power"`    // watts
	Speed    float64 `json:"speed"`    // km/h
	Distance float64 `json:"distance"` // meters
	Time     int64   `json:"time"`     // elapsed milliseconds
}

func (p StatePayload) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"power", p.Power},
		{"speed", p.Speed},
		{"distance", p.Distance},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v", ErrInvalidMessage, f.name, f.value)
		}
	}
	if p.Time < 0 {
		return fmt.Errorf("%w: time must be non-negative, got %d", ErrInvalidMessage, p.Time)
	}
	return nil
}

// OutboundMessage is one application frame waiting to be sent.
type OutboundMessage struct {
	Kind  MessageKind
	State StatePayload
	Text  string
}

// NewStateUpdate builds a state_update message.
func NewStateUpdate(p StatePayload) (OutboundMessage, error) {
	if err := p.Validate(); err != nil {
		return OutboundMessage{}, err
	}
	return OutboundMessage{Kind: MessageStateUpdate, State: p}, nil
}

// NewChat builds a chat message. Blank text is rejected.
func NewChat(text string) (OutboundMessage, error) {
	if strings.TrimSpace(text) == "" {
		return OutboundMessage{}, fmt.Errorf("%w: chat text is empty", ErrInvalidMessage)
	}
	return OutboundMessage{Kind: MessageChat, Text: text}, nil
}

type outboundFrame struct {
	Type    MessageKind `json:"type"`
	Content any         `json:"content"`
}

func (m OutboundMessage) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MessageStateUpdate:
		return json.Marshal(outboundFrame{Type: m.Kind, Content: m.State})
	case MessageChat:
		return json.Marshal(outboundFrame{Type: m.Kind, Content: m.Text})
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
}

// InboundFrame is a parsed server frame. Content is kept raw so subscribers
// receive exactly what the server sent.
type InboundFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ParseFrame decodes one text frame. Frames that are not JSON objects with a
// non-empty type are malformed.
func ParseFrame(data []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(frame.Type) == "" {
		return InboundFrame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return frame, nil
}

// BuildTarget returns <base>/ws?token=<token>&room=<roomID>. Existing query
// parameters on base are kept in front.
func BuildTarget(base, roomID, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse server url: %q is not absolute", base)
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, wsPath) {
		path += wsPath
	}
	u.Path = path
	u.RawPath = ""

	query := "token=" + url.QueryEscape(token) + "&room=" + url.QueryEscape(roomID)
	if u.RawQuery != "" {
		query = u.RawQuery + "&" + query
	}
	u.RawQuery = query
	return u.String(), nil
}
