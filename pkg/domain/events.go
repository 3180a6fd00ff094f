package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStateChange    EventType = "state_change"
	EventScriptStart    EventType = "script_start"
	EventScriptComplete EventType = "script_complete"
	EventScriptError    EventType = "script_error"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Session   string    `json:"session"`
}

// StateEvent represents a RunState transition inside the loop.
type StateEvent struct {
	EventBase
	From RunState `json:"from"`
	To   RunState `json:"to"`
}

// ScriptEvent represents one script pass.
type ScriptEvent struct {
	EventBase
	Script   string        `json:"script"`
	State    RunState      `json:"state"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// LifecycleHooks defines callbacks for loop observability.
// They run synchronously on the loop's goroutine.
type LifecycleHooks struct {
	OnStateChange    func(context.Context, *StateEvent)
	OnScriptStart    func(context.Context, *ScriptEvent)
	OnScriptComplete func(context.Context, *ScriptEvent)
	OnScriptError    func(context.Context, *ScriptEvent)
}
