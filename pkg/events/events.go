package events

import (
	"context"
	"time"
)

// Type names a session lifecycle transition.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionTouched Type = "session.touched"
	SessionResumed Type = "session.resumed"
	SessionClosed  Type = "session.closed"
	SessionEvicted Type = "session.evicted"
)

// Event is published after a transition has been committed.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	SessionID  string    `json:"session_id"`
	Directory  string    `json:"directory"`
	KeyDigest  string    `json:"key_digest"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers lifecycle events. Delivery is best effort: a failed
// publish never undoes a committed transition.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
