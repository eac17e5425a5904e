/*
Package domain contains the core domain models of the canopy router.

It defines the entities the decision engine works with: capability descriptors,
branch nodes, the events a capability streams back, and the per-run state
(Environment and Decision History). This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - CapabilityDescriptor: the static metadata of a tool (name, inputs, terminal/rule flags).
  - BranchNode: a point in the decision tree offering a subset of tools.
  - Event: one item of a capability's output stream (Status, Text, Result, Error).
  - Environment: the run-scoped, insertion-ordered store of produced Results.
  - RunState: the mutable bundle owned by one engine invocation.
*/
package domain
