package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// Overlay contains run state to visualize on the tree.
type Overlay struct {
	VisitedNodes  []string
	CurrentNode   string
	ExecutedTools []ToolVisit
}

// ToolVisit is one tool executed at a node.
type ToolVisit struct {
	NodeID string
	Tool   string
}

// OverlayFromRun highlights the nodes and tools a run went through.
func OverlayFromRun(state *domain.RunState) *Overlay {
	o := &Overlay{CurrentNode: state.CurrentNodeID}
	for _, e := range state.History {
		o.VisitedNodes = append(o.VisitedNodes, e.NodeID)
		o.ExecutedTools = append(o.ExecutedTools, ToolVisit{NodeID: e.NodeID, Tool: e.ToolName})
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a tree.
// Branch nodes are rectangles, the root a circle. Tools hang off their node
// with a dotted link and are shaped by kind:
// - Terminal: ([Stadium])
// - Rule: {{Hexagon}}
// - Default: [[Subroutine]]
// A tool with a downstream node links to it; predecessors appear in the label.
// tools supplies descriptors for shaping and may be nil.
func GenerateMermaid(tree domain.Tree, tools []domain.CapabilityDescriptor, overlay *Overlay) string {
	descs := make(map[string]domain.CapabilityDescriptor, len(tools))
	for _, d := range tools {
		descs[d.Name] = d
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range tree.Nodes {
		safeID := sanitizeMermaidID(node.ID)
		opener, closer := "[", "]"
		if node.Root {
			opener, closer = "((", "))"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(node.ID), closer)
	}

	for _, node := range tree.Nodes {
		safeID := sanitizeMermaidID(node.ID)
		for _, child := range node.Children {
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(child))
		}

		for _, att := range node.Tools {
			toolID := toolNodeID(node.ID, att.Name)
			opener, closer := "[[", "]]"
			switch d := descs[att.Name]; {
			case d.Terminal:
				opener, closer = "([", "])"
			case d.Rule:
				opener, closer = "{{", "}}"
			}

			label := escapeLabel(att.Name)
			if len(att.Predecessors) > 0 {
				label += " <br/> after " + escapeLabel(strings.Join(att.Predecessors, ", "))
			}
			fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", toolID, opener, label, closer)
			fmt.Fprintf(&sb, "    %s -.- %s\n", safeID, toolID)

			if att.Downstream != "" {
				fmt.Fprintf(&sb, "    %s -.-> %s\n", toolID, sanitizeMermaidID(att.Downstream))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on both light and dark themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef executed fill:#e8f5e9,stroke:#1b5e20,stroke-width:2px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if safeID != "" && !seen[safeID] {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		for _, v := range overlay.ExecutedTools {
			toolID := toolNodeID(v.NodeID, v.Tool)
			if !seen[toolID] {
				seen[toolID] = true
				fmt.Fprintf(&sb, "    class %s executed;\n", toolID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func toolNodeID(nodeID, tool string) string {
	return sanitizeMermaidID(nodeID) + "__" + sanitizeMermaidID(tool)
}

func escapeLabel(s string) string {
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
