package domain

import (
	"maps"
	"strings"
	"time"
)

// Stage is the dialog state-machine position of a session.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageSelectingFlow    Stage = "selecting_flow"
	StageAwaitingInput    Stage = "awaiting_input"
	StageCollectingField  Stage = "collecting_field"
	StageExecutingActions Stage = "executing_actions"
	StageError            Stage = "error"
	StageTerminated       Stage = "terminated"
)

// SessionStatus tells whether the bot still owns the conversation.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusHandedOff SessionStatus = "handed_off" // a department or agent took over
	StatusEnded     SessionStatus = "ended"
)

// Session is the per-contact, per-connection conversation state.
type Session struct {
	ID           string `json:"id"`
	ContactID    string `json:"contact_id"`
	ConnectionID string `json:"connection_id"`

	FlowID string `json:"flow_id,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	Stage  Stage  `json:"stage"`
	// Label is the stage label of the field being collected, or the failed
	// action type when Stage is StageError.
	Label string `json:"label,omitempty"`

	Fields          map[string]string   `json:"fields"`
	Cursor          int                 `json:"cursor,omitempty"`
	InvalidAttempts int                 `json:"invalid_attempts,omitempty"`
	DynamicOptions  map[string][]Option `json:"dynamic_options,omitempty"`

	TimeoutToken string        `json:"timeout_token,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
	Status       SessionStatus `json:"status"`
	History      []string      `json:"history,omitempty"`
}

// SessionKey derives the session id for a contact on a connection.
func SessionKey(contactID, connectionID string) string {
	return connectionID + ":" + contactID
}

// NewSession creates an idle session for the given contact.
func NewSession(contactID, connectionID string) *Session {
	return &Session{
		ID:           SessionKey(contactID, connectionID),
		ContactID:    contactID,
		ConnectionID: connectionID,
		Stage:        StageIdle,
		Status:       StatusActive,
		Fields:       make(map[string]string),
	}
}

// Address returns where outbound messages for this session go.
func (s *Session) Address() Address {
	return Address{ContactID: s.ContactID, ConnectionID: s.ConnectionID}
}

// Clone returns a copy that shares no maps or slices with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	next := *s
	next.Fields = maps.Clone(s.Fields)
	if next.Fields == nil {
		next.Fields = make(map[string]string)
	}
	if s.DynamicOptions != nil {
		next.DynamicOptions = make(map[string][]Option, len(s.DynamicOptions))
		for k, v := range s.DynamicOptions {
			next.DynamicOptions[k] = append([]Option(nil), v...)
		}
	}
	next.History = append([]string(nil), s.History...)
	return &next
}

// SwitchFlow makes flowID the current flow, clearing fields and form progress.
func (s *Session) SwitchFlow(flowID string) {
	s.FlowID = flowID
	s.NodeID = ""
	s.Fields = make(map[string]string)
	s.Cursor = 0
	s.InvalidAttempts = 0
	s.Label = ""
	s.DynamicOptions = nil
}

// SetDynamicOptions overlays runtime options on a menu node for this session only.
func (s *Session) SetDynamicOptions(nodeID string, options []Option) {
	if s.DynamicOptions == nil {
		s.DynamicOptions = make(map[string][]Option)
	}
	s.DynamicOptions[nodeID] = append([]Option(nil), options...)
}

// OptionsFor returns the options in effect for node: the session overlay if any.
func (s *Session) OptionsFor(node *Node) []Option {
	if opts, ok := s.DynamicOptions[node.ID]; ok {
		return opts
	}
	return node.Options
}

// Terminated reports whether the conversation has reached a sink state.
func (s *Session) Terminated() bool {
	return s.Status == StatusEnded || s.Stage == StageTerminated
}

// Vars exposes the session to content templates.
func (s *Session) Vars() map[string]any {
	data := make(map[string]any, len(s.Fields)+2)
	for k, v := range s.Fields {
		data[k] = v
	}
	data["contact"] = s.ContactID
	data["connection"] = s.ConnectionID
	return data
}

// InboundMessage is one message received from a contact.
type InboundMessage struct {
	ContactID    string    `json:"contact_id"`
	ConnectionID string    `json:"connection_id"`
	Text         string    `json:"text,omitempty"`
	MediaRef     string    `json:"media_ref,omitempty"`
	MediaType    string    `json:"media_type,omitempty"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// HasMedia reports whether the message carries an attachment.
func (m InboundMessage) HasMedia() bool {
	return m.MediaRef != ""
}

// IsImage reports whether the attachment is an image. An unknown type is accepted.
func (m InboundMessage) IsImage() bool {
	return m.HasMedia() && (m.MediaType == "" || strings.HasPrefix(m.MediaType, "image/"))
}
