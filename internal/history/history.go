// Package history records subscriber session open and close events.
package history

import (
	"context"
	"time"
)

// Event describes one session opening.
type Event struct {
	SessionID string
	UserID    string
	Login     string
	DeviceID  string
	Transport string
	OpenedAt  time.Time
}

// Recorder persists session history.
type Recorder interface {
	// Opened records that a session was registered.
	Opened(ctx context.Context, ev Event) error
	// Closed marks a session as ended.
	Closed(ctx context.Context, sessionID string, at time.Time) error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Opened(context.Context, Event) error             { return nil }
func (Nop) Closed(context.Context, string, time.Time) error { return nil }
