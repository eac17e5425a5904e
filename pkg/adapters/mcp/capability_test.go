package mcp_test

import (
	"context"
	"testing"

	"github.com/aretw0/canopy"
	canopymcp "github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecs_AgentMode(t *testing.T) {
	servers := []canopymcp.ServerConfig{
		fakeConfig,
		{Name: "off", Enabled: false, Command: "x"},
		{Name: "broken", Enabled: true, Transport: "sse"},
	}

	specs := canopymcp.Specs(context.Background(), servers, true, canopymcp.WithDialer(inProcess(fakeServer())))
	require.Len(t, specs, 1)
	desc := specs[0].Descriptor
	assert.Equal(t, "mcp_fake", desc.Name)
	assert.False(t, desc.Terminal)
	assert.Equal(t, canopymcp.ActionList, desc.Inputs["action"].Default)
}

func TestSpecs_IndividualMode(t *testing.T) {
	specs := canopymcp.Specs(context.Background(), []canopymcp.ServerConfig{fakeConfig}, false,
		canopymcp.WithDialer(inProcess(fakeServer())))

	var names []string
	for _, s := range specs {
		names = append(names, s.Descriptor.Name)
	}
	assert.Equal(t, []string{"mcp_fake_add", "mcp_fake_fail", "mcp_fake_shout"}, names)

	add := specs[0].Descriptor
	assert.Equal(t, "Add two numbers", add.Description)
	assert.Equal(t, "float", add.Inputs["a"].Type)
	assert.True(t, add.Inputs["a"].Required)
}

func TestAgent_List(t *testing.T) {
	agent := mustNew(t, canopymcp.AgentSpec(fakeConfig, canopymcp.WithDialer(inProcess(fakeServer()))))

	events, errs := drain(t, agent, map[string]any{"action": "list"})
	require.Empty(t, errs)

	var result *domain.Result
	var text string
	for _, ev := range events {
		switch ev.Kind {
		case domain.EventResult:
			result = ev.Result
		case domain.EventText:
			text = ev.Message
		}
	}
	require.NotNil(t, result)
	assert.Equal(t, "fake_tools", result.Name)
	assert.Len(t, result.Objects, 3)
	assert.Contains(t, text, "has 3 tools")
	assert.Contains(t, text, "- add: Add two numbers")
}

func TestAgent_Execute(t *testing.T) {
	agent := mustNew(t, canopymcp.AgentSpec(fakeConfig, canopymcp.WithDialer(inProcess(fakeServer()))))

	events, errs := drain(t, agent, map[string]any{
		"action":      "execute",
		"tool_name":   "add",
		"tool_inputs": map[string]any{"a": 2, "b": 3},
	})
	require.Empty(t, errs)

	last := events[len(events)-1]
	require.Equal(t, domain.EventResult, last.Kind)
	assert.Equal(t, "add", last.Result.Name)
	assert.Equal(t, float64(5), last.Result.Objects[0]["sum"])
}

func TestAgent_ExecuteErrors(t *testing.T) {
	agent := mustNew(t, canopymcp.AgentSpec(fakeConfig, canopymcp.WithDialer(inProcess(fakeServer()))))

	tests := []struct {
		name   string
		inputs map[string]any
		want   string
	}{
		{"missing tool name", map[string]any{"action": "execute"}, "tool_name is required"},
		{"unknown tool", map[string]any{"action": "execute", "tool_name": "nope"}, "not found"},
		{"remote error", map[string]any{"action": "execute", "tool_name": "fail"}, "out of cheese"},
		{"unknown action", map[string]any{"action": "dance"}, "unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := drain(t, agent, tt.inputs)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.want)
		})
	}
}

func TestAgent_Availability(t *testing.T) {
	ctx := context.Background()
	agent := mustNew(t, canopymcp.AgentSpec(fakeConfig))
	ok, err := agent.(ports.AvailabilityChecker).Available(ctx, nil, ports.Handles{})
	require.NoError(t, err)
	assert.True(t, ok)

	missing := mustNew(t, canopymcp.AgentSpec(canopymcp.ServerConfig{Name: "nowhere"}))
	ok, err = missing.(ports.AvailabilityChecker).Available(ctx, nil, ports.Handles{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemote_ThroughRouter(t *testing.T) {
	specs := canopymcp.Specs(context.Background(), []canopymcp.ServerConfig{fakeConfig}, false,
		canopymcp.WithDialer(inProcess(fakeServer())))

	r := canopy.New(canopy.WithPredictor(predictor.NewScripted(
		ports.Choice{ToolName: "mcp_fake_shout", Inputs: map[string]any{"text": "quiet"}},
		ports.Choice{ToolName: "text_response"},
	)))
	_, err := r.AddNode(graph.NodeSpec{ID: "base", Root: true})
	require.NoError(t, err)
	for _, s := range append(specs, tools.TextResponseSpec()) {
		_, err := r.AdmitTool(s, nil, "base")
		require.NoError(t, err)
	}

	state := r.NewRun("shout quiet")
	var texts []string
	for ev := range r.Stream(context.Background(), state) {
		if ev.Kind == domain.EventText && ev.Tool == "mcp_fake_shout" {
			texts = append(texts, ev.Message)
		}
	}

	require.NoError(t, state.Err)
	assert.Equal(t, []string{"mcp_fake_shout", "text_response"}, state.ToolSequence())
	assert.Equal(t, []string{"QUIET"}, texts)
}
