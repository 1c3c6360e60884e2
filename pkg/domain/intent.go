package domain

// IntentKind is the shape of an outbound message.
type IntentKind string

const (
	IntentText    IntentKind = "text"
	IntentMedia   IntentKind = "media"
	IntentButtons IntentKind = "buttons"
)

// Address identifies a contact on a connection.
type Address struct {
	ContactID    string `json:"contact_id"`
	ConnectionID string `json:"connection_id"`
}

// Button is one quick-reply choice attached to a buttons intent.
type Button struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// OutboundIntent is a message the host should deliver on behalf of the engine.
// The engine never talks to a channel directly during a turn.
type OutboundIntent struct {
	ID       string     `json:"id"`
	Kind     IntentKind `json:"kind"`
	To       Address    `json:"to"`
	Text     string     `json:"text,omitempty"`
	MediaRef string     `json:"media_ref,omitempty"`
	Caption  string     `json:"caption,omitempty"`
	Buttons  []Button   `json:"buttons,omitempty"`
}

// ButtonsFrom maps menu options to quick-reply buttons.
func ButtonsFrom(options []Option) []Button {
	buttons := make([]Button, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, Button{Value: opt.Value, Text: opt.Text})
	}
	return buttons
}
