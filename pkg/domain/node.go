package domain

// ToolAttachment records that a tool is offered at a branch node.
type ToolAttachment struct {
	Name string `json:"name" yaml:"name"`

	// Predecessors are tools that must already appear in the run's history
	// before this tool becomes eligible (post-processing tools).
	Predecessors []string `json:"from_tool_ids,omitempty" yaml:"from_tool_ids,omitempty"`

	// Downstream is the child node the run moves to after this tool executes,
	// unless the predictor names an explicit target.
	Downstream string `json:"downstream,omitempty" yaml:"downstream,omitempty"`
}

// BranchNode represents a decision point in the tree.
type BranchNode struct {
	ID string `json:"id" yaml:"id"`

	// Instruction is guidance for the predictor; opaque to the engine.
	Instruction string `json:"instruction" yaml:"instruction"`

	// Description is how the parent sees this node when offering it as a branch.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Root     bool   `json:"root" yaml:"root"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Status   string `json:"status,omitempty" yaml:"status,omitempty"`

	Children []string         `json:"children,omitempty" yaml:"children,omitempty"`
	Tools    []ToolAttachment `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// ToolNames returns the attached tool names in attachment order.
func (n BranchNode) ToolNames() []string {
	names := make([]string, len(n.Tools))
	for i, t := range n.Tools {
		names[i] = t.Name
	}
	return names
}

// Tree is a structural snapshot of a branch graph, nodes in breadth-first order.
type Tree struct {
	RootID string       `json:"root_id"`
	Nodes  []BranchNode `json:"nodes"`
}

// Node returns the node with the given id from the snapshot.
func (t Tree) Node(id string) (BranchNode, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return BranchNode{}, false
}
