package domain

import "time"

// NodeType is the closed set of node variants a flow can contain.
type NodeType string

const (
	// NodeMenu shows content plus a list of options and waits for a choice.
	NodeMenu NodeType = "menu"
	// NodePrompt asks a single free-form question and stores the reply.
	NodePrompt NodeType = "prompt"
	// NodeForm collects several fields, one per turn.
	NodeForm NodeType = "form"
	// NodeCondition branches on collected data without consuming input.
	NodeCondition NodeType = "condition"
	// NodeResponse displays content and continues (or waits, if flagged).
	NodeResponse NodeType = "response"
)

// Valid reports whether t is one of the known node variants.
func (t NodeType) Valid() bool {
	switch t {
	case NodeMenu, NodePrompt, NodeForm, NodeCondition, NodeResponse:
		return true
	}
	return false
}

// Flow is a named, triggerable conversation graph owned by a connection or department.
type Flow struct {
	ID           string    `json:"id" yaml:"id" mapstructure:"id"`
	ConnectionID string    `json:"connection_id" yaml:"connection_id" mapstructure:"connection_id"`
	Name         string    `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Active       bool      `json:"active" yaml:"active" mapstructure:"active"`
	Priority     int       `json:"priority,omitempty" yaml:"priority,omitempty" mapstructure:"priority"`
	CreatedAt    time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty" mapstructure:"-"`
	Triggers     []string  `json:"triggers,omitempty" yaml:"triggers,omitempty" mapstructure:"triggers"`
	RootNodeID   string    `json:"root_node_id" yaml:"root" mapstructure:"root"`

	// Nodes may be empty when the flow is returned as a trigger header only.
	Nodes []Node `json:"nodes,omitempty" yaml:"nodes,omitempty" mapstructure:"nodes"`
}

// Node is one step of a flow and the unit of conversational state.
type Node struct {
	ID       string   `json:"id" yaml:"id" mapstructure:"id"`
	FlowID   string   `json:"flow_id,omitempty" yaml:"flow_id,omitempty" mapstructure:"flow_id"`
	ParentID string   `json:"parent_id,omitempty" yaml:"parent,omitempty" mapstructure:"parent"`
	Type     NodeType `json:"type" yaml:"type" mapstructure:"type"`

	// Content is a text/template rendered against the session fields.
	Content string `json:"content,omitempty" yaml:"content,omitempty" mapstructure:"content"`
	Order   int    `json:"order,omitempty" yaml:"order,omitempty" mapstructure:"order"`

	IsFinal        bool `json:"is_final,omitempty" yaml:"final,omitempty" mapstructure:"final"`
	HasActions     bool `json:"has_actions,omitempty" yaml:"has_actions,omitempty" mapstructure:"has_actions"`
	WaitForInput   bool `json:"wait_for_input,omitempty" yaml:"wait,omitempty" mapstructure:"wait"`
	TimeoutSeconds int  `json:"timeout_seconds,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`

	// Next is the default successor: prompt reply, form completion,
	// response continuation and the else branch of a condition.
	Next string `json:"next,omitempty" yaml:"next,omitempty" mapstructure:"next"`
	// SaveTo names the field a prompt reply is stored under.
	SaveTo    string `json:"save_to,omitempty" yaml:"save_to,omitempty" mapstructure:"save_to"`
	OnTimeout string `json:"on_timeout,omitempty" yaml:"on_timeout,omitempty" mapstructure:"on_timeout"`
	OnInvalid string `json:"on_invalid,omitempty" yaml:"on_invalid,omitempty" mapstructure:"on_invalid"`

	Options  []Option     `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
	Actions  []NodeAction `json:"actions,omitempty" yaml:"actions,omitempty" mapstructure:"actions"`
	Fields   []FormField  `json:"fields,omitempty" yaml:"fields,omitempty" mapstructure:"fields"`
	Branches []Branch     `json:"branches,omitempty" yaml:"branches,omitempty" mapstructure:"branches"`
}

// Timeout returns the armed timeout for the node, or zero when none applies.
func (n *Node) Timeout() time.Duration {
	if !n.WaitForInput || n.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// Option is a selectable branch of a menu node.
type Option struct {
	Text       string `json:"text" yaml:"text" mapstructure:"text"`
	Value      string `json:"value" yaml:"value" mapstructure:"value"`
	NextNodeID string `json:"next_node_id" yaml:"next" mapstructure:"next"`
	Order      int    `json:"order,omitempty" yaml:"order,omitempty" mapstructure:"order"`
}

// FormField describes one field of a form node.
// Stage is the validation stage label (see the Field* constants).
type FormField struct {
	Key      string `json:"key" yaml:"key" mapstructure:"key"`
	Prompt   string `json:"prompt" yaml:"prompt" mapstructure:"prompt"`
	Stage    string `json:"stage,omitempty" yaml:"stage,omitempty" mapstructure:"stage"`
	Pattern  string `json:"pattern,omitempty" yaml:"pattern,omitempty" mapstructure:"pattern"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty" mapstructure:"optional"`
}

// Validation stage labels understood by the form collector.
const (
	FieldText           = "text"
	FieldNumber         = "number"
	FieldEmail          = "email"
	FieldAttachImage    = "attach_image"
	FieldAttachDocument = "attach_document"
)

// Branch is one guarded exit of a condition node.
// Either Field/Op/Value or the When expression is set.
type Branch struct {
	Field string `json:"field,omitempty" yaml:"field,omitempty" mapstructure:"field"`
	Op    string `json:"op,omitempty" yaml:"op,omitempty" mapstructure:"op"`
	Value string `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	When  string `json:"when,omitempty" yaml:"when,omitempty" mapstructure:"when"`
	Next  string `json:"next" yaml:"next" mapstructure:"next"`
}
