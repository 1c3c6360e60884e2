package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrFlowNotFound is returned when a flow ID does not resolve to a flow definition.
var ErrFlowNotFound = errors.New("flow not found")

// ErrNodeNotFound is returned when a node ID does not exist in a flow graph.
var ErrNodeNotFound = errors.New("node not found")

// ErrNoDefaultFlow is returned when no trigger matched and no default flow is configured.
var ErrNoDefaultFlow = errors.New("no default flow configured")

// ErrCapabilityUnavailable is returned when an action needs a port that was not wired.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// InvalidOptionError reports a menu reply that matched no option.
type InvalidOptionError struct {
	NodeID   string
	Input    string
	Attempts int
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid option %q at node %s (attempt %d)", e.Input, e.NodeID, e.Attempts)
}

// FormValidationError reports a form reply rejected by its field stage.
type FormValidationError struct {
	NodeID string
	Field  string
	Stage  string
	Reason string
}

func (e *FormValidationError) Error() string {
	return fmt.Sprintf("field %s (%s) at node %s: %s", e.Field, e.Stage, e.NodeID, e.Reason)
}

// ActionError wraps the failure of a single node action.
type ActionError struct {
	NodeID string
	Action ActionType
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s at node %s failed: %v", e.Action, e.NodeID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
