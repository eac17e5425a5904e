package dsl

import (
	"fmt"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
)

// Catalog resolves tool names. *catalog.Catalog satisfies it.
type Catalog interface {
	Lookup(name string) (ports.Spec, bool)
}

// Builder manages the tree construction.
type Builder struct {
	order []string
	nodes map[string]*NodeBuilder
}

// New creates a new tree builder.
func New() *Builder {
	return &Builder{
		nodes: make(map[string]*NodeBuilder),
	}
}

// Add creates a new branch in the tree.
// If the branch already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{spec: graph.NodeSpec{ID: id}}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Build creates a Router with opts and applies the tree to it.
func (b *Builder) Build(cat Catalog, opts ...canopy.Option) (*canopy.Router, error) {
	r := canopy.New(opts...)
	if err := b.Apply(r, cat); err != nil {
		return nil, err
	}
	return r, nil
}

// Apply adds the branches to r, parents before children whatever the order
// they were declared in, then admits their tools from cat.
// A tool missing from cat is a *domain.ConfigurationError.
func (b *Builder) Apply(r *canopy.Router, cat Catalog) error {
	pending := make([]*NodeBuilder, 0, len(b.order))
	for _, id := range b.order {
		pending = append(pending, b.nodes[id])
	}

	for len(pending) > 0 {
		var next []*NodeBuilder
		for _, nb := range pending {
			if !nb.spec.Root {
				if _, ok := r.Graph().Node(nb.spec.ParentID); !ok {
					next = append(next, nb)
					continue
				}
			}
			if _, err := r.AddNode(nb.spec); err != nil {
				return err
			}
		}
		if len(next) == len(pending) {
			// No progress: report the first dangling parent.
			_, err := r.AddNode(next[0].spec)
			return err
		}
		pending = next
	}

	for _, id := range b.order {
		for _, t := range b.nodes[id].tools {
			if err := admit(r, cat, id, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func admit(r *canopy.Router, cat Catalog, nodeID string, t tool) error {
	spec, ok := cat.Lookup(t.name)
	if !ok {
		return &domain.ConfigurationError{Tool: t.name, Err: fmt.Errorf("not in the catalog (node %q)", nodeID)}
	}
	var attach []graph.AttachOption
	if len(t.predecessors) > 0 {
		attach = append(attach, graph.WithPredecessors(t.predecessors...))
	}
	if t.downstream != "" {
		attach = append(attach, graph.WithDownstream(t.downstream))
	}
	if _, err := r.AdmitTool(spec, t.config, nodeID, attach...); err != nil {
		return fmt.Errorf("node %q: %w", nodeID, err)
	}
	return nil
}
