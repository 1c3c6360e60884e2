package domain

// ActionType identifies the capability a node action invokes.
type ActionType string

const (
	ActionSendDocument       ActionType = "send_document"
	ActionTransferDepartment ActionType = "transfer_department"
	ActionTransferAgent      ActionType = "transfer_agent"
	ActionSendMessage        ActionType = "send_message"
	// ActionWaitInput is a marker: the node stops and awaits the next message.
	ActionWaitInput ActionType = "wait_input"
	// ActionEndConversation terminates the session. Later actions never run.
	ActionEndConversation ActionType = "end_conversation"
)

// NodeAction is a side-effect attached to a node.
// Config is opaque here; the executor decodes it per Type.
type NodeAction struct {
	ID     string         `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Type   ActionType     `json:"type" yaml:"type" mapstructure:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`
	Order  int            `json:"execution_order" yaml:"order" mapstructure:"order"`
	Active bool           `json:"active" yaml:"active" mapstructure:"active"`
}

// DocumentConfig is the decoded payload of a send_document action.
type DocumentConfig struct {
	URL       string `mapstructure:"url"`
	FileName  string `mapstructure:"file_name"`
	Caption   string `mapstructure:"caption"`
	MediaType string `mapstructure:"media_type"`
}

// TransferConfig is the decoded payload of transfer_department and transfer_agent.
type TransferConfig struct {
	DepartmentID string `mapstructure:"department_id"`
	AgentID      string `mapstructure:"agent_id"`
	Message      string `mapstructure:"message"`
}

// MessageConfig is the decoded payload of send_message.
type MessageConfig struct {
	Text string `mapstructure:"text"`
}

// EndConfig is the decoded payload of end_conversation.
type EndConfig struct {
	Message string `mapstructure:"message"`
}
