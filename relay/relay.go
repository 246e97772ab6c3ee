// Package relay carries "activity happened" signals between sibling sessions of
// the same dashboard so that working in one keeps the others alive.
package relay

import (
	"time"
)

// TypeActivity is the only message type sessions act upon.
const TypeActivity = "activity"

// Message is the payload carried on a relay channel.
type Message struct {
	Type   string `json:"type"`
	TS     int64  `json:"ts"`               // epoch milliseconds of the activity
	Source string `json:"source,omitempty"` // tab ID of the sender
}

// ActivityMessage builds an activity message stamped with at.
func ActivityMessage(at time.Time, source string) Message {
	return Message{Type: TypeActivity, TS: at.UnixMilli(), Source: source}
}

// Time returns the activity timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.TS)
}

// ActivityRelay publishes and receives activity messages on one named channel.
// Implementations do not deliver a message back to the subscriber set of the
// endpoint that broadcast it.
type ActivityRelay interface {
	Broadcast(msg Message) error
	Subscribe(fn func(Message)) (unsubscribe func())
	Close() error
}

type noopRelay struct{}

// Noop returns a relay for environments without cross-session messaging. Each
// session then tracks only its own activity.
func Noop() ActivityRelay {
	return noopRelay{}
}

func (noopRelay) Broadcast(Message) error { return nil }

func (noopRelay) Subscribe(func(Message)) func() { return func() {} }

func (noopRelay) Close() error { return nil }
