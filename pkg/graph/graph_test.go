package graph_test

import (
	"sync"
	"testing"

	"github.com/aretw0/canopy/internal/testutils"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T, tools ...string) (*graph.Graph, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	for _, name := range tools {
		_, err := reg.Admit(testutils.SpecOf(testutils.NewTool(name, false)), nil)
		require.NoError(t, err)
	}
	g := graph.New(reg)
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "base", Instruction: "choose", Root: true}))
	return g, reg
}

func TestAddNode_Structure(t *testing.T) {
	g, _ := newGraph(t)

	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "search", ParentID: "base", Description: "search things"}))
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "query", ParentID: "search"}))

	tests := []struct {
		name string
		spec graph.NodeSpec
	}{
		{"second root", graph.NodeSpec{ID: "other", Root: true}},
		{"dangling parent", graph.NodeSpec{ID: "x", ParentID: "nowhere"}},
		{"duplicate id", graph.NodeSpec{ID: "search", ParentID: "base"}},
		{"empty id", graph.NodeSpec{ParentID: "base"}},
		{"no parent", graph.NodeSpec{ID: "floating"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := g.Snapshot()
			err := g.AddNode(tt.spec)
			assert.ErrorIs(t, err, domain.ErrStructure)
			assert.Equal(t, before, g.Snapshot())
		})
	}

	tree := g.Snapshot()
	assert.Equal(t, "base", tree.RootID)
	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, []string{"base", "search", "query"}, []string{tree.Nodes[0].ID, tree.Nodes[1].ID, tree.Nodes[2].ID})
	assert.Equal(t, []string{"search"}, tree.Nodes[0].Children)
}

func TestAddNode_FirstMustBeRoot(t *testing.T) {
	g := graph.New(registry.New())
	err := g.AddNode(graph.NodeSpec{ID: "child", ParentID: "base"})
	assert.ErrorIs(t, err, domain.ErrStructure)
	assert.Equal(t, "", g.Root())
}

func TestRemoveNode_Cascades(t *testing.T) {
	g, reg := newGraph(t, "search", "summarise")
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "a", ParentID: "base"}))
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "b", ParentID: "a"}))
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "c", ParentID: "b"}))
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "d", ParentID: "base"}))
	require.NoError(t, g.AttachTool("b", "summarise"))
	require.NoError(t, g.AttachTool("base", "search", graph.WithDownstream("a")))

	require.NoError(t, g.RemoveNode("a"))

	for _, id := range []string{"a", "b", "c"} {
		_, ok := g.Node(id)
		assert.False(t, ok, id)
	}
	root, _ := g.Node("base")
	assert.Equal(t, []string{"d"}, root.Children)
	assert.Equal(t, "", root.Tools[0].Downstream)

	_, ok := reg.Lookup("summarise")
	assert.True(t, ok, "registry must be untouched")
	assert.Equal(t, 2, g.Len())
}

func TestRemoveNode_RootAndAbsent(t *testing.T) {
	g, _ := newGraph(t)

	err := g.RemoveNode("base")
	assert.ErrorIs(t, err, domain.ErrStructure)
	assert.Equal(t, "base", g.Root())

	assert.NoError(t, g.RemoveNode("ghost"))

	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "a", ParentID: "base"}))
	require.NoError(t, g.RemoveNode("a"))
	require.NoError(t, g.RemoveNode("a"))
	assert.Equal(t, 1, g.Len())
}

func TestMoveNode(t *testing.T) {
	g, _ := newGraph(t)
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "a", ParentID: "base"}))
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "b", ParentID: "a"}))
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "c", ParentID: "base"}))

	require.NoError(t, g.MoveNode("b", "c"))
	c, _ := g.Node("c")
	assert.Equal(t, []string{"b"}, c.Children)
	b, _ := g.Node("b")
	assert.Equal(t, "c", b.ParentID)

	assert.ErrorIs(t, g.MoveNode("c", "b"), domain.ErrStructure, "cycle")
	assert.ErrorIs(t, g.MoveNode("c", "c"), domain.ErrStructure, "self")
	assert.ErrorIs(t, g.MoveNode("base", "a"), domain.ErrStructure, "root")
	assert.ErrorIs(t, g.MoveNode("ghost", "a"), domain.ErrStructure)
	assert.ErrorIs(t, g.MoveNode("a", "ghost"), domain.ErrStructure)
}

func TestAttachTool(t *testing.T) {
	g, _ := newGraph(t, "search", "summarise")
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "results", ParentID: "base"}))

	require.NoError(t, g.AttachTool("base", "search", graph.WithDownstream("results")))
	require.NoError(t, g.AttachTool("base", "summarise", graph.WithPredecessors("search")))

	tools := g.ToolsOf("base")
	require.Len(t, tools, 2)
	assert.Equal(t, "results", tools[0].Downstream)
	assert.Equal(t, []string{"search"}, tools[1].Predecessors)

	// Re-attach keeps position and replaces options.
	require.NoError(t, g.AttachTool("base", "search"))
	tools = g.ToolsOf("base")
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "", tools[0].Downstream)

	assert.ErrorIs(t, g.AttachTool("ghost", "search"), domain.ErrStructure)
	assert.ErrorIs(t, g.AttachTool("base", "unknown"), domain.ErrStructure)
	assert.ErrorIs(t, g.AttachTool("results", "search", graph.WithDownstream("base")), domain.ErrStructure)
}

func TestDetachTool_Idempotent(t *testing.T) {
	g, _ := newGraph(t, "search")
	require.NoError(t, g.AttachTool("base", "search"))

	g.DetachTool("base", "search")
	g.DetachTool("base", "search")
	g.DetachTool("ghost", "search")
	assert.Empty(t, g.ToolsOf("base"))
}

func TestDetachEverywhere(t *testing.T) {
	g, _ := newGraph(t, "search")
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "a", ParentID: "base"}))
	require.NoError(t, g.AttachTool("base", "search"))
	require.NoError(t, g.AttachTool("a", "search"))

	assert.Equal(t, []string{"base", "a"}, g.DetachEverywhere("search"))
	assert.Empty(t, g.DetachEverywhere("search"))
}

func TestReads_ReturnCopies(t *testing.T) {
	g, _ := newGraph(t, "search")
	require.NoError(t, g.AddNode(graph.NodeSpec{ID: "a", ParentID: "base"}))
	require.NoError(t, g.AttachTool("base", "search", graph.WithPredecessors("x")))

	n, _ := g.Node("base")
	n.Children[0] = "mutated"
	n.Tools[0].Predecessors[0] = "mutated"

	again, _ := g.Node("base")
	assert.Equal(t, "a", again.Children[0])
	assert.Equal(t, "x", again.Tools[0].Predecessors[0])
	assert.Equal(t, "a", g.ChildrenOf("base")[0].ID)
}

func TestConcurrentMutations(t *testing.T) {
	g, _ := newGraph(t, "search")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = g.AddNode(graph.NodeSpec{ID: id, ParentID: "base"})
			_ = g.AttachTool(id, "search")
			_ = g.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 21, g.Len())
	root, _ := g.Node("base")
	assert.Len(t, root.Children, 20)
}
