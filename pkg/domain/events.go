package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventFlowSelected EventType = "flow_selected"
	EventNodeEnter    EventType = "node_enter"
	EventAction       EventType = "action"
	EventTimeout      EventType = "timeout"
	EventSessionEnded EventType = "session_ended"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	FlowID    string    `json:"flow_id,omitempty"`
}

// FlowEvent is emitted when a session starts a flow.
type FlowEvent struct {
	EventBase
	// Trigger is empty when the default flow was used.
	Trigger string `json:"trigger,omitempty"`
}

// NodeEvent represents entry into a node.
type NodeEvent struct {
	EventBase
	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
}

// ActionEvent represents the execution of one node action.
type ActionEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	Action   ActionType    `json:"action"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// TimeoutEvent represents a fired response timeout.
type TimeoutEvent struct {
	EventBase
	NodeID string `json:"node_id"`
	Target string `json:"target,omitempty"`
}

// SessionEvent represents the end of a conversation.
type SessionEvent struct {
	EventBase
	Reason string `json:"reason"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnFlowSelected func(context.Context, *FlowEvent)
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnAction       func(context.Context, *ActionEvent)
	OnTimeout      func(context.Context, *TimeoutEvent)
	OnSessionEnded func(context.Context, *SessionEvent)
}
