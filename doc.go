/*
Package canopy is an agentic task router built around a decision tree.

Given a user request, a run repeatedly selects and executes tools along a tree
of branch nodes until a terminal tool completes. Every Result a tool produces
is collected into the run's Environment, and every executed selection is
recorded in its Decision History.

# Concept

A Router owns two shared structures:

  - a tool registry, where capabilities are admitted after a single contract check;
  - a branch graph, a rooted tree whose nodes offer subsets of the admitted tools.

At each node, rule tools are evaluated first: a rule may force its own
selection, or decline and still run for its side effects. Otherwise an external
predictor chooses among the eligible tools, or descends into a child branch.
Tool output is a stream of Status, Text, Result and Error events.

# Usage

	r := canopy.New(canopy.WithPredictor(predictor.First{}))

	r.AddNode(graph.NodeSpec{ID: "base", Instruction: "Answer the user", Root: true})
	r.AdmitTool(tools.TextResponseSpec(), nil, "base")

	state := r.NewRun("hello")
	for ev := range r.Stream(ctx, state) {
		fmt.Println(ev.Kind, ev.Message)
	}
	fmt.Println(state.Status, state.ToolSequence())

Runs fail only when no forward progress is possible (no tool available, the
step guard, or a predictor failure). Tool failures surface as Error events and
the run continues.
*/
package canopy
