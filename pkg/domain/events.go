package domain

import (
	"context"
	"time"
)

// EventKind defines the category of an output event.
type EventKind string

const (
	// EventStatus is a progress message; it never changes run state.
	EventStatus EventKind = "status"
	// EventText is free-form text meant for the user.
	EventText EventKind = "text"
	// EventResult carries an artifact that is appended to the Environment.
	EventResult EventKind = "result"
	// EventError reports a failure; it is never appended to the Environment.
	EventError EventKind = "error"
)

// Result is one artifact produced by a capability.
type Result struct {
	Name     string           `json:"name,omitempty"`
	Type     string           `json:"type,omitempty"`
	Objects  []map[string]any `json:"objects"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Event is one item of a capability's output stream, as forwarded to observers.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Message   string    `json:"message,omitempty"`
	Result    *Result   `json:"result,omitempty"`
}

// Status builds a Status event.
func Status(msg string) Event {
	return Event{Kind: EventStatus, Message: msg}
}

// Text builds a Text event.
func Text(msg string) Event {
	return Event{Kind: EventText, Message: msg}
}

// ResultEvent builds a Result event.
func ResultEvent(r Result) Event {
	return Event{Kind: EventResult, Result: &r}
}

// Failure builds an Error event.
func Failure(msg string) Event {
	return Event{Kind: EventError, Message: msg}
}

// StepEvent describes a selection or an execution step, for lifecycle hooks.
type StepEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id"`
	ToolName  string         `json:"tool_name"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Forced    bool           `json:"forced,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter  func(ctx context.Context, runID, nodeID string)
	OnToolCall   func(ctx context.Context, e *StepEvent)
	OnToolReturn func(ctx context.Context, e *StepEvent)
	OnRunEnd     func(ctx context.Context, state *RunState)
}
