package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// GraphOverlay contains dynamic session data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFor builds an overlay from a session in the given flow.
func OverlayFor(s *domain.Session) *GraphOverlay {
	return &GraphOverlay{VisitedNodes: s.History, CurrentNode: s.NodeID}
}

// GenerateMermaid produces a Mermaid flowchart of a flow.
// Shapes follow the node type:
//   - Root: ((Circle))
//   - Menu, Prompt, Form: [/Parallelogram/] (waits for input)
//   - Condition: {Rhombus}
//   - Response with actions: [[Subroutine]]
//   - Final response: ([Stadium])
//   - Other: [Rectangle]
//
// Fallback edges (timeout, invalid input) are dotted.
func GenerateMermaid(flow domain.Flow, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range flow.Nodes {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch {
		case node.ID == flow.RootNodeID:
			opener, closer = "((", "))"
		case node.Type == domain.NodeCondition:
			opener, closer = "{", "}"
		case node.Type == domain.NodeMenu || node.Type == domain.NodePrompt || node.Type == domain.NodeForm:
			opener, closer = "[/", "/]"
		case len(node.Actions) > 0:
			opener, closer = "[[", "]]"
		case node.IsFinal:
			opener, closer = "([", "])"
		}

		label := node.ID
		if node.TimeoutSeconds > 0 {
			label = fmt.Sprintf("%s <br/> ⏱️ %ds", node.ID, node.TimeoutSeconds)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		for _, opt := range node.Options {
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, escape(opt.Value+". "+opt.Text), sanitizeMermaidID(opt.NextNodeID))
		}
		for _, b := range node.Branches {
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, escape(branchLabel(b)), sanitizeMermaidID(b.Next))
		}
		if node.Next != "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(node.Next))
		}
		if node.OnTimeout != "" {
			fmt.Fprintf(&sb, "    %s -. ⏱️ .-> %s\n", safeID, sanitizeMermaidID(node.OnTimeout))
		}
		if node.OnInvalid != "" {
			fmt.Fprintf(&sb, "    %s -. invalid .-> %s\n", safeID, sanitizeMermaidID(node.OnInvalid))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func branchLabel(b domain.Branch) string {
	if b.When != "" {
		return b.When
	}
	return strings.TrimSpace(b.Field + " " + b.Op + " " + b.Value)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
