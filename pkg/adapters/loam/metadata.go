package loam

// FlowMetadata is the frontmatter of a flow document.
// Loose types (any, maps) are decoded by flowdoc so numbers survive strict mode.
type FlowMetadata struct {
	ID           string           `json:"id" mapstructure:"id"`
	ConnectionID string           `json:"connection_id" mapstructure:"connection_id"`
	Name         string           `json:"name,omitempty" mapstructure:"name"`
	Active       *bool            `json:"active,omitempty" mapstructure:"active"`
	Priority     any              `json:"priority,omitempty" mapstructure:"priority"`
	CreatedAt    any              `json:"created_at,omitempty" mapstructure:"created_at"`
	Triggers     []string         `json:"triggers,omitempty" mapstructure:"triggers"`
	Root         string           `json:"root" mapstructure:"root"`
	Nodes        []map[string]any `json:"nodes" mapstructure:"nodes"`
}

func (m FlowMetadata) raw() map[string]any {
	raw := map[string]any{
		"id":            m.ID,
		"connection_id": m.ConnectionID,
		"name":          m.Name,
		"triggers":      m.Triggers,
		"root":          m.Root,
	}
	if m.Active != nil {
		raw["active"] = *m.Active
	}
	if m.Priority != nil {
		raw["priority"] = m.Priority
	}
	if m.CreatedAt != nil {
		raw["created_at"] = m.CreatedAt
	}
	nodes := make([]any, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		nodes = append(nodes, n)
	}
	raw["nodes"] = nodes
	return raw
}
