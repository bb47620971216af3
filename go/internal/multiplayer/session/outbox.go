package session

// Outbox holds messages composed while the connection was not open.
// It is owned by a Transport and guarded by the transport's lock.
type Outbox struct {
	items []OutboundMessage
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Push appends msg to the tail.
func (o *Outbox) Push(msg OutboundMessage) {
	o.items = append(o.items, msg)
}

func (o *Outbox) Len() int {
	return len(o.items)
}

// Clear drops every queued message and returns how many were dropped.
func (o *Outbox) Clear() int {
	n := len(o.items)
	o.items = nil
	return n
}

// Drain hands messages to send from head to tail. It stops at the first send
// error, leaving the failed message and everything behind it queued in order.
func (o *Outbox) Drain(send func(OutboundMessage) error) (int, error) {
	sent := 0
	for len(o.items) > 0 {
		if err := send(o.items[0]); err != nil {
			return sent, err
		}
		o.items[0] = OutboundMessage{}
		o.items = o.items[1:]
		sent++
	}
	o.items = nil
	return sent, nil
}

// Snapshot returns a copy of the queued messages in order.
func (o *Outbox) Snapshot() []OutboundMessage {
	return append([]OutboundMessage(nil), o.items...)
}
