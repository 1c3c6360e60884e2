// Package compiler turns flow definitions into immutable graphs the engine can walk.
package compiler

import (
	"fmt"
	"sort"

	"github.com/aretw0/parley/internal/actions"
	"github.com/aretw0/parley/pkg/domain"
)

// Warning is a non-fatal finding about a flow.
type Warning struct {
	NodeID  string
	Message string
}

func (w Warning) String() string {
	if w.NodeID == "" {
		return w.Message
	}
	return fmt.Sprintf("%s: %s", w.NodeID, w.Message)
}

// Compile normalizes and validates a flow and returns its graph.
// Normalization: node FlowID is set, options are sorted by Order, inactive
// actions are dropped and the rest sorted, HasActions mirrors the action list
// and TimeoutSeconds is cleared on nodes that do not wait for input.
// Menu, prompt and form nodes always wait.
func Compile(flow domain.Flow) (*domain.FlowGraph, []Warning, error) {
	var warnings []Warning

	nodes := make([]domain.Node, len(flow.Nodes))
	for i, n := range flow.Nodes {
		n.FlowID = flow.ID

		n.Options = append([]domain.Option(nil), n.Options...)
		sort.SliceStable(n.Options, func(a, b int) bool { return n.Options[a].Order < n.Options[b].Order })

		n.Actions = actions.Sorted(n.Actions)
		n.HasActions = len(n.Actions) > 0

		if n.Type == domain.NodeMenu || n.Type == domain.NodePrompt || n.Type == domain.NodeForm {
			n.WaitForInput = true
		}
		if n.TimeoutSeconds != 0 && !n.WaitForInput {
			warnings = append(warnings, Warning{NodeID: n.ID, Message: "timeout ignored on a node that does not wait for input"})
			n.TimeoutSeconds = 0
		}
		if n.TimeoutSeconds < 0 {
			warnings = append(warnings, Warning{NodeID: n.ID, Message: "negative timeout ignored"})
			n.TimeoutSeconds = 0
		}
		nodes[i] = n
	}
	flow.Nodes = nodes

	more, err := Validate(flow)
	warnings = append(warnings, more...)
	if err != nil {
		return nil, warnings, err
	}
	return domain.NewFlowGraph(flow), warnings, nil
}
