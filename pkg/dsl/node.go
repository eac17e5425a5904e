package dsl

import (
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
)

// NodeBuilder provides a fluent API for configuring a branch.
type NodeBuilder struct {
	spec  graph.NodeSpec
	tools []tool
}

type tool struct {
	name         string
	config       ports.Config
	predecessors []string
	downstream   string
}

// ToolOption configures one attachment made by Use.
type ToolOption func(*tool)

// After makes the tool eligible only once every named tool has run.
func After(names ...string) ToolOption {
	return func(t *tool) { t.predecessors = append(t.predecessors, names...) }
}

// Then moves the run to the child branch childID after the tool succeeds.
func Then(childID string) ToolOption {
	return func(t *tool) { t.downstream = childID }
}

// Config sets the per-attachment configuration passed to the tool.
func Config(cfg ports.Config) ToolOption {
	return func(t *tool) { t.config = cfg }
}

// Root marks the branch as the root of the tree.
func (n *NodeBuilder) Root() *NodeBuilder {
	n.spec.Root = true
	n.spec.ParentID = ""
	return n
}

// Under places the branch below parentID.
func (n *NodeBuilder) Under(parentID string) *NodeBuilder {
	n.spec.Root = false
	n.spec.ParentID = parentID
	return n
}

// Instruction sets the prompt used when choosing among the branch's options.
func (n *NodeBuilder) Instruction(text string) *NodeBuilder {
	n.spec.Instruction = text
	return n
}

// Describe sets the text a parent shows when offering this branch.
func (n *NodeBuilder) Describe(text string) *NodeBuilder {
	n.spec.Description = text
	return n
}

// Status sets the message emitted when the run enters the branch.
func (n *NodeBuilder) Status(text string) *NodeBuilder {
	n.spec.Status = text
	return n
}

// Use attaches the catalog tool name to the branch.
func (n *NodeBuilder) Use(name string, opts ...ToolOption) *NodeBuilder {
	t := tool{name: name}
	for _, opt := range opts {
		opt(&t)
	}
	n.tools = append(n.tools, t)
	return n
}

// Spec returns the branch definition without its tools.
func (n *NodeBuilder) Spec() graph.NodeSpec {
	return n.spec
}
