package process_test

import (
	"context"
	"testing"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/adapters/process"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTool_ThroughRouter(t *testing.T) {
	skipOnWindows(t)
	runner := process.NewRunner()
	specs := process.Specs(runner, map[string]process.ProcessConfig{
		"greet": {
			Name:    "greet",
			Command: "sh",
			Args:    []string{"-c", `printf '[{"greeting":"hi %s"}]' "$CANOPY_ARG_WHO"`},
			Inputs:  map[string]domain.InputSpec{"who": {Type: "string", Required: true}},
		},
	})
	require.Len(t, specs, 1)
	assert.True(t, runner.Registered("greet"))

	r := canopy.New(canopy.WithPredictor(predictor.NewScripted(
		ports.Choice{ToolName: "greet", Inputs: map[string]any{"who": "ada"}},
		ports.Choice{ToolName: "text_response"},
	)))
	_, err := r.AddNode(graph.NodeSpec{ID: "base", Root: true})
	require.NoError(t, err)
	_, err = r.AdmitTool(specs[0], nil, "base")
	require.NoError(t, err)
	_, err = r.AdmitTool(tools.TextResponseSpec(), nil, "base")
	require.NoError(t, err)

	state := r.NewRun("say hi")
	require.NoError(t, r.Run(context.Background(), state))

	results := state.Environment.Results("greet")
	require.Len(t, results, 1)
	assert.Equal(t, "hi ada", results[0].Objects[0]["greeting"])
}

func TestTool_PlainOutputAndFailure(t *testing.T) {
	skipOnWindows(t)
	runner := process.NewRunner()
	spec := process.NewSpec(runner, process.ProcessConfig{Name: "date", Command: "echo", Args: []string{"today"}})
	broken := process.NewSpec(runner, process.ProcessConfig{Name: "broken", Command: "false"})

	c, err := spec.New(nil)
	require.NoError(t, err)

	var kinds []domain.EventKind
	for ev, err := range c.Execute(context.Background(), nil, nil, ports.Handles{}) {
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == domain.EventResult {
			assert.Equal(t, "today", ev.Result.Objects[0]["output"])
		}
	}
	assert.Equal(t, []domain.EventKind{domain.EventText, domain.EventResult}, kinds)

	b, err := broken.New(nil)
	require.NoError(t, err)
	var failures int
	for _, err := range b.Execute(context.Background(), nil, nil, ports.Handles{}) {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}
