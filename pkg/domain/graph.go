package domain

// FlowGraph is the compiled, immutable snapshot of a Flow.
// Callers receive it from the flow cache and must treat it as read-only.
type FlowGraph struct {
	flow  Flow
	index map[string]*Node
	order []string
}

// NewFlowGraph indexes the given flow. Nodes are copied; the flow is not retained.
// The compiler is expected to have normalized the nodes beforehand.
func NewFlowGraph(flow Flow) *FlowGraph {
	g := &FlowGraph{
		flow:  flow,
		index: make(map[string]*Node, len(flow.Nodes)),
		order: make([]string, 0, len(flow.Nodes)),
	}
	g.flow.Nodes = nil
	g.flow.Triggers = append([]string(nil), flow.Triggers...)
	for i := range flow.Nodes {
		n := flow.Nodes[i]
		n.Options = append([]Option(nil), n.Options...)
		n.Actions = append([]NodeAction(nil), n.Actions...)
		n.Fields = append([]FormField(nil), n.Fields...)
		n.Branches = append([]Branch(nil), n.Branches...)
		g.index[n.ID] = &n
		g.order = append(g.order, n.ID)
	}
	return g
}

// ID returns the flow id.
func (g *FlowGraph) ID() string { return g.flow.ID }

// ConnectionID returns the owning connection.
func (g *FlowGraph) ConnectionID() string { return g.flow.ConnectionID }

// Header returns the flow metadata without nodes.
func (g *FlowGraph) Header() Flow { return g.flow }

// RootID returns the entry node id.
func (g *FlowGraph) RootID() string { return g.flow.RootNodeID }

// Node returns the node with the given id.
func (g *FlowGraph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Root returns the entry node.
func (g *FlowGraph) Root() (*Node, bool) {
	return g.Node(g.flow.RootNodeID)
}

// NodeIDs returns node ids in declaration order.
func (g *FlowGraph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

// Len returns the number of nodes.
func (g *FlowGraph) Len() int { return len(g.order) }
