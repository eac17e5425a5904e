// Package runtime implements the decision engine.
//
// A run alternates between SELECTING and EXECUTING. Selection computes the
// eligible tools of the current node, lets rule tools force or decline, and
// otherwise asks the predictor. Execution validates inputs, drains the tool's
// event stream into the run's Environment and records a DecisionEntry.
// Per-step failures surface as Error events; only conditions that make forward
// progress impossible end the run as failed.
package runtime
