// Package graph maintains the branch tree that decision runs navigate.
//
// The graph is a rooted tree of BranchNodes. Every mutation is checked before it
// is applied, so a rejected call leaves the tree exactly as it was. Tools are
// attached by name; the graph consults a ports.ToolLookup to refuse names that
// were never admitted, but it never admits or revokes tools itself.
package graph

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// NodeSpec describes a node to add.
type NodeSpec struct {
	ID          string `json:"id" yaml:"id"`
	Instruction string `json:"instruction" yaml:"instruction"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Root        bool   `json:"root,omitempty" yaml:"root,omitempty"`
	ParentID    string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
}

// Graph is a concurrency-safe branch tree.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[string]*domain.BranchNode
	rootID string
	tools  ports.ToolLookup
	logger *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for structural changes.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates an empty graph. tools resolves admitted tool names for AttachTool.
func New(tools ports.ToolLookup, opts ...Option) *Graph {
	g := &Graph{
		nodes:  make(map[string]*domain.BranchNode),
		tools:  tools,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode inserts a node. The first node must be the root; every other node
// must name an existing parent.
func (g *Graph) AddNode(spec NodeSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fail := func(reason string) error {
		return &domain.StructureError{Op: "add node", NodeID: spec.ID, Reason: reason}
	}

	switch {
	case spec.ID == "":
		return fail("id is required")
	case g.nodes[spec.ID] != nil:
		return fail("node already exists")
	case spec.Root && g.rootID != "":
		return fail(fmt.Sprintf("tree already has root %q", g.rootID))
	case spec.Root && spec.ParentID != "":
		return fail("root node cannot have a parent")
	case !spec.Root && spec.ParentID == "":
		return fail("non-root node requires a parent")
	case !spec.Root && g.nodes[spec.ParentID] == nil:
		return fail(fmt.Sprintf("parent %q does not exist", spec.ParentID))
	}

	node := &domain.BranchNode{
		ID:          spec.ID,
		Instruction: spec.Instruction,
		Description: spec.Description,
		Root:        spec.Root,
		ParentID:    spec.ParentID,
		Status:      spec.Status,
	}
	g.nodes[spec.ID] = node
	if spec.Root {
		g.rootID = spec.ID
	} else {
		parent := g.nodes[spec.ParentID]
		parent.Children = append(parent.Children, spec.ID)
	}

	g.logger.Debug("node added", "node", spec.ID, "parent", spec.ParentID, "root", spec.Root)
	return nil
}

// RemoveNode deletes a node and, recursively, all of its descendants.
// Tools attached to removed nodes are detached; the registry is untouched.
// Removing an id that is not in the tree is a no-op.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.nodes[id]
	if node == nil {
		return nil
	}
	if node.Root {
		return &domain.StructureError{Op: "remove node", NodeID: id, Reason: "cannot remove the root"}
	}

	removed := g.subtree(id)
	for _, rid := range removed {
		delete(g.nodes, rid)
	}

	if parent := g.nodes[node.ParentID]; parent != nil {
		parent.Children = slices.DeleteFunc(parent.Children, func(c string) bool { return c == id })
	}

	for _, n := range g.nodes {
		for i := range n.Tools {
			if n.Tools[i].Downstream != "" && slices.Contains(removed, n.Tools[i].Downstream) {
				n.Tools[i].Downstream = ""
			}
		}
	}

	g.logger.Debug("node removed", "node", id, "removed", len(removed))
	return nil
}

// MoveNode re-parents a node. A node cannot be moved under itself or one of
// its descendants, and the root cannot be moved.
func (g *Graph) MoveNode(id, newParentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fail := func(reason string) error {
		return &domain.StructureError{Op: "move node", NodeID: id, Reason: reason}
	}

	node := g.nodes[id]
	if node == nil {
		return fail("node does not exist")
	}
	if node.Root {
		return fail("cannot move the root")
	}
	newParent := g.nodes[newParentID]
	if newParent == nil {
		return fail(fmt.Sprintf("parent %q does not exist", newParentID))
	}
	if slices.Contains(g.subtree(id), newParentID) {
		return fail(fmt.Sprintf("moving under %q would create a cycle", newParentID))
	}
	if node.ParentID == newParentID {
		return nil
	}

	oldParent := g.nodes[node.ParentID]
	oldParent.Children = slices.DeleteFunc(oldParent.Children, func(c string) bool { return c == id })
	for i := range oldParent.Tools {
		if oldParent.Tools[i].Downstream == id {
			oldParent.Tools[i].Downstream = ""
		}
	}
	newParent.Children = append(newParent.Children, id)
	node.ParentID = newParentID

	g.logger.Debug("node moved", "node", id, "parent", newParentID)
	return nil
}

// AttachOption configures a tool attachment.
type AttachOption func(*domain.ToolAttachment)

// WithPredecessors makes the tool eligible only after the named tools have run.
func WithPredecessors(names ...string) AttachOption {
	return func(a *domain.ToolAttachment) {
		a.Predecessors = append([]string(nil), names...)
	}
}

// WithDownstream moves the run to the given child after the tool executes.
func WithDownstream(childID string) AttachOption {
	return func(a *domain.ToolAttachment) {
		a.Downstream = childID
	}
}

// AttachTool offers an admitted tool at a node. Attaching a tool that is
// already attached updates its options and keeps its position.
func (g *Graph) AttachTool(nodeID, tool string, opts ...AttachOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fail := func(reason string) error {
		return &domain.StructureError{Op: "attach tool", NodeID: nodeID, Reason: reason}
	}

	node := g.nodes[nodeID]
	if node == nil {
		return fail("node does not exist")
	}
	if g.tools != nil {
		if _, ok := g.tools.Lookup(tool); !ok {
			return fail(fmt.Sprintf("tool %q is not admitted", tool))
		}
	}

	att := domain.ToolAttachment{Name: tool}
	for _, opt := range opts {
		opt(&att)
	}
	if att.Downstream != "" && !slices.Contains(node.Children, att.Downstream) {
		return fail(fmt.Sprintf("downstream %q is not a child", att.Downstream))
	}

	if i := slices.IndexFunc(node.Tools, func(t domain.ToolAttachment) bool { return t.Name == tool }); i >= 0 {
		node.Tools[i] = att
	} else {
		node.Tools = append(node.Tools, att)
	}

	g.logger.Debug("tool attached", "node", nodeID, "tool", tool)
	return nil
}

// DetachTool removes a tool from a node. Unknown nodes or tools are ignored.
func (g *Graph) DetachTool(nodeID, tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.nodes[nodeID]
	if node == nil {
		return
	}
	node.Tools = slices.DeleteFunc(node.Tools, func(t domain.ToolAttachment) bool { return t.Name == tool })
}

// DetachEverywhere removes a tool from every node and returns the affected node ids.
func (g *Graph) DetachEverywhere(tool string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var affected []string
	for _, id := range g.orderLocked() {
		node := g.nodes[id]
		before := len(node.Tools)
		node.Tools = slices.DeleteFunc(node.Tools, func(t domain.ToolAttachment) bool { return t.Name == tool })
		if len(node.Tools) != before {
			affected = append(affected, id)
		}
	}
	return affected
}

// Root returns the root node id, or "" if the tree is empty.
func (g *Graph) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rootID
}

// Node returns a copy of a node.
func (g *Graph) Node(id string) (domain.BranchNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.nodes[id]
	if n == nil {
		return domain.BranchNode{}, false
	}
	return cloneNode(n), true
}

// ChildrenOf returns copies of a node's children in insertion order.
func (g *Graph) ChildrenOf(id string) []domain.BranchNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	out := make([]domain.BranchNode, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, cloneNode(g.nodes[c]))
	}
	return out
}

// ToolsOf returns a node's tool attachments in attachment order.
func (g *Graph) ToolsOf(id string) []domain.ToolAttachment {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	return cloneAttachments(n.Tools)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Snapshot returns a copy of the whole tree in breadth-first order.
func (g *Graph) Snapshot() domain.Tree {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tree := domain.Tree{RootID: g.rootID}
	for _, id := range g.orderLocked() {
		tree.Nodes = append(tree.Nodes, cloneNode(g.nodes[id]))
	}
	return tree
}

// orderLocked lists node ids breadth-first from the root.
func (g *Graph) orderLocked() []string {
	if g.rootID == "" {
		return nil
	}
	return g.subtree(g.rootID)
}

// subtree lists id and its descendants breadth-first.
func (g *Graph) subtree(id string) []string {
	out := []string{id}
	for i := 0; i < len(out); i++ {
		if n := g.nodes[out[i]]; n != nil {
			out = append(out, n.Children...)
		}
	}
	return out
}

func cloneNode(n *domain.BranchNode) domain.BranchNode {
	out := *n
	out.Children = append([]string(nil), n.Children...)
	out.Tools = cloneAttachments(n.Tools)
	return out
}

func cloneAttachments(in []domain.ToolAttachment) []domain.ToolAttachment {
	if in == nil {
		return nil
	}
	out := make([]domain.ToolAttachment, len(in))
	for i, a := range in {
		out[i] = a
		out[i].Predecessors = append([]string(nil), a.Predecessors...)
	}
	return out
}
