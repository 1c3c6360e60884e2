package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/parley/internal/condition"
	"github.com/aretw0/parley/pkg/domain"
)

// ValidationError lists every broken reference found in a flow.
type ValidationError struct {
	FlowID   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("flow %s: found %d errors:\n- %s", e.FlowID, len(e.Problems), strings.Join(e.Problems, "\n- "))
}

var knownActions = map[domain.ActionType]bool{
	domain.ActionSendDocument:       true,
	domain.ActionTransferDepartment: true,
	domain.ActionTransferAgent:      true,
	domain.ActionSendMessage:        true,
	domain.ActionWaitInput:          true,
	domain.ActionEndConversation:    true,
}

// Validate checks for broken links and unreachable nodes starting from the root.
// Unreachable nodes are warnings; everything else is an error.
func Validate(flow domain.Flow) ([]Warning, error) {
	var (
		problems []string
		warnings []Warning
	)
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if flow.ID == "" {
		fail("flow has no id")
	}

	index := make(map[string]*domain.Node, len(flow.Nodes))
	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		if n.ID == "" {
			fail("node #%d has no id", i)
			continue
		}
		if _, dup := index[n.ID]; dup {
			fail("duplicate node id '%s'", n.ID)
			continue
		}
		index[n.ID] = n
	}

	exists := func(id string) bool {
		_, ok := index[id]
		return ok
	}
	link := func(from, kind, to string) {
		if to != "" && !exists(to) {
			fail("%s: %s points to missing node '%s'", from, kind, to)
		}
	}

	if flow.RootNodeID == "" {
		fail("flow has no root node")
	} else if !exists(flow.RootNodeID) {
		fail("root node '%s' not found", flow.RootNodeID)
	}

	for _, n := range flow.Nodes {
		if n.ID == "" {
			continue
		}
		if !n.Type.Valid() {
			fail("%s: unknown node type '%s'", n.ID, n.Type)
		}
		if n.ParentID != "" && !exists(n.ParentID) {
			fail("%s: parent '%s' not found", n.ID, n.ParentID)
		}
		link(n.ID, "next", n.Next)
		link(n.ID, "on_timeout", n.OnTimeout)
		link(n.ID, "on_invalid", n.OnInvalid)

		switch n.Type {
		case domain.NodeMenu:
			if len(n.Options) == 0 {
				warnings = append(warnings, Warning{NodeID: n.ID, Message: "menu has no static options; it relies on dynamic options"})
			}
			seen := make(map[string]bool)
			for _, opt := range n.Options {
				v := strings.TrimSpace(opt.Value)
				if v == "" {
					fail("%s: option '%s' has no value", n.ID, opt.Text)
				}
				if seen[v] {
					fail("%s: duplicate option value '%s'", n.ID, v)
				}
				seen[v] = true
				if opt.NextNodeID == "" {
					fail("%s: option '%s' has no target", n.ID, v)
				}
				link(n.ID, "option "+v, opt.NextNodeID)
			}
		case domain.NodeForm:
			if len(n.Fields) == 0 {
				fail("%s: form has no fields", n.ID)
			}
			keys := make(map[string]bool)
			for _, f := range n.Fields {
				if f.Key == "" {
					fail("%s: form field without key", n.ID)
				}
				if keys[f.Key] {
					fail("%s: duplicate field key '%s'", n.ID, f.Key)
				}
				keys[f.Key] = true
				switch f.Stage {
				case "", domain.FieldText, domain.FieldNumber, domain.FieldEmail, domain.FieldAttachImage, domain.FieldAttachDocument:
				default:
					fail("%s: field '%s' has unknown stage '%s'", n.ID, f.Key, f.Stage)
				}
				if f.Pattern != "" {
					if _, err := regexp.Compile(f.Pattern); err != nil {
						fail("%s: field '%s' pattern: %v", n.ID, f.Key, err)
					}
				}
			}
		case domain.NodePrompt:
			if n.SaveTo == "" {
				warnings = append(warnings, Warning{NodeID: n.ID, Message: "prompt has no save_to; replies are discarded"})
			}
		case domain.NodeCondition:
			if n.Next == "" {
				fail("%s: condition has no else target (next)", n.ID)
			}
			for i, b := range n.Branches {
				if b.Next == "" {
					fail("%s: branch %d has no target", n.ID, i)
				}
				link(n.ID, fmt.Sprintf("branch %d", i), b.Next)
				pred := b
				if b.When != "" {
					parsed, err := condition.Parse(b.When)
					if err != nil {
						warnings = append(warnings, Warning{NodeID: n.ID, Message: fmt.Sprintf("branch %d is left to the host evaluator: %v", i, err)})
						continue
					}
					pred = parsed
				} else if b.Field == "" {
					fail("%s: branch %d has neither field nor when", n.ID, i)
					continue
				}
				if !condition.Known(pred.Op) {
					fail("%s: branch %d has unknown operator '%s'", n.ID, i, pred.Op)
					continue
				}
				if pred.Op == condition.OpMatches {
					if _, err := regexp.Compile(pred.Value); err != nil {
						fail("%s: branch %d pattern: %v", n.ID, i, err)
					}
				}
			}
		}

		for _, a := range n.Actions {
			if !knownActions[a.Type] {
				fail("%s: unknown action type '%s'", n.ID, a.Type)
			}
		}
	}

	// Crawler
	if exists(flow.RootNodeID) {
		visited := make(map[string]bool)
		queue := []string{flow.RootNodeID}
		for len(queue) > 0 {
			currentID := queue[0]
			queue = queue[1:]
			if visited[currentID] {
				continue
			}
			visited[currentID] = true

			n, ok := index[currentID]
			if !ok {
				continue
			}
			for _, target := range successors(n) {
				if target != "" && !visited[target] {
					queue = append(queue, target)
				}
			}
		}
		for _, n := range flow.Nodes {
			if n.ID != "" && !visited[n.ID] {
				warnings = append(warnings, Warning{NodeID: n.ID, Message: "unreachable from root"})
			}
		}
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{FlowID: flow.ID, Problems: problems}
	}
	return warnings, nil
}

func successors(n *domain.Node) []string {
	out := []string{n.Next, n.OnTimeout, n.OnInvalid}
	for _, o := range n.Options {
		out = append(out, o.NextNodeID)
	}
	for _, b := range n.Branches {
		out = append(out, b.Next)
	}
	return out
}
