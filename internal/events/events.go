// Package events publishes bootstrap lifecycle events to a configurable sink.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle transition of a bootstrap session.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Identity  string         `json:"identity"`
	State     string         `json:"state"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(sessionID, identity, state string, at time.Time) *Event {
	return &Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Identity:  identity,
		State:     state,
		Timestamp: at,
	}
}

// Sink defines the interface for delivering lifecycle events.
type Sink interface {
	// Send delivers one event.
	Send(ctx context.Context, ev *Event) error

	// Close releases any resources held by the sink.
	Close() error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Send(context.Context, *Event) error { return nil }
func (NopSink) Close() error                       { return nil }
