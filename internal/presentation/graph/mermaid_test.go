package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/canopy/internal/presentation/graph"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/stretchr/testify/assert"
)

var tree = domain.Tree{
	RootID: "base",
	Nodes: []domain.BranchNode{
		{
			ID:       "base",
			Root:     true,
			Children: []string{"knowledge-base"},
			Tools: []domain.ToolAttachment{
				{Name: "text_response"},
				{Name: "gate"},
				{Name: "echo", Downstream: "knowledge-base"},
			},
		},
		{
			ID:       "knowledge-base",
			ParentID: "base",
			Tools: []domain.ToolAttachment{
				{Name: "query"},
				{Name: "summarise_items", Predecessors: []string{"query"}},
			},
		},
	},
}

var descriptors = []domain.CapabilityDescriptor{
	{Name: "text_response", Terminal: true},
	{Name: "gate", Rule: true},
}

func TestGenerateMermaid(t *testing.T) {
	got := graph.GenerateMermaid(tree, descriptors, nil)

	tests := []struct {
		name string
		want string
	}{
		{"root is a circle", `base(("base"))`},
		{"branch is sanitized", `knowledge_base["knowledge-base"]`},
		{"child edge", "base --> knowledge_base"},
		{"terminal tool", `base__text_response(["text_response"])`},
		{"rule tool", `base__gate{{"gate"}}`},
		{"plain tool", `base__echo[["echo"]]`},
		{"tool link", "base -.- base__echo"},
		{"downstream", "base__echo -.-> knowledge_base"},
		{"predecessors", `knowledge_base__summarise_items[["summarise_items <br/> after query"]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, got, tt.want)
		})
	}
	assert.True(t, strings.HasPrefix(got, "graph TD\n"))
	assert.NotContains(t, got, "classDef")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	state := domain.NewRunState("r1", "base", "hi")
	state.RecordDecision(domain.DecisionEntry{NodeID: "base", ToolName: "echo"})
	state.RecordDecision(domain.DecisionEntry{NodeID: "knowledge-base", ToolName: "query"})
	state.CurrentNodeID = "knowledge-base"

	got := graph.GenerateMermaid(tree, nil, graph.OverlayFromRun(state))

	assert.Contains(t, got, "class base visited;")
	assert.Contains(t, got, "class base__echo executed;")
	assert.Contains(t, got, "class knowledge_base__query executed;")
	assert.Contains(t, got, "class knowledge_base current;")
	assert.Equal(t, 1, strings.Count(got, "class base visited;"))
}
