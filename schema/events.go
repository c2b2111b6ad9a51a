package schema

import "time"

// EventType identifies a scheduler event.
type EventType string

const (
	// EventState carries a phase or index change.
	EventState EventType = "state"
	// EventRefresh reports a pane reload.
	EventRefresh EventType = "refresh"
	// EventConfig reports an applied configuration reload.
	EventConfig EventType = "config"
	// EventError reports a non-fatal failure (render, persistence, reload).
	EventError EventType = "error"
)

// StateEvent is emitted by the scheduler loop.
type StateEvent struct {
	Type      EventType     `json:"type"`
	Reason    string        `json:"reason,omitempty"`
	State     StateSnapshot `json:"state"`
	Panes     []int         `json:"panes,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
