/*
Package ports defines the driven ports (interfaces) of the canopy router.

These interfaces decouple the decision engine from concrete tools, predictors
and storage backends.

# Key Interfaces

  - Capability: a tool the engine can execute; its output is a cancellable event stream.
  - RuleCapability: a tool that can force or decline the routing decision.
  - Predictor: the external chooser consulted when no rule forces a selection.
  - RunStore: persistence for finished runs (history and environment).
  - DistributedLocker: cross-replica locking for conversations.
*/
package ports
