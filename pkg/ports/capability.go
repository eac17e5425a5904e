package ports

import (
	"context"
	"iter"

	"github.com/aretw0/canopy/pkg/domain"
)

// Config is the keyword configuration handed to a capability factory.
type Config map[string]any

// Stream is the output of a capability execution: a finite, ordered sequence of events.
// Yielding a non-nil error reports a failure of the step and ends consumption.
// When yield returns false the consumer has stopped; the producer must return promptly.
type Stream = iter.Seq2[domain.Event, error]

// Handles carries the collaborators a capability may use (language models, service clients).
type Handles struct {
	Models   map[string]any
	Services map[string]any
}

// Model returns a model handle by name.
func (h Handles) Model(name string) (any, bool) {
	v, ok := h.Models[name]
	return v, ok
}

// Service returns a service handle by name.
func (h Handles) Service(name string) (any, bool) {
	v, ok := h.Services[name]
	return v, ok
}

// RunView is the read-only view of a run that capabilities receive.
type RunView interface {
	RunID() string
	Request() string
	NodeID() string
	Step() int
	// Environment returns a snapshot; mutating it does not affect the run.
	Environment() *domain.Environment
	History() []domain.DecisionEntry
}

// Capability is the contract every tool satisfies.
type Capability interface {
	// Descriptor returns the static metadata of the tool.
	Descriptor() domain.CapabilityDescriptor

	// Execute runs the tool with validated inputs.
	Execute(ctx context.Context, view RunView, inputs map[string]any, h Handles) Stream
}

// AvailabilityChecker is implemented by tools that are only sometimes eligible.
type AvailabilityChecker interface {
	Available(ctx context.Context, view RunView, h Handles) (bool, error)
}

// Decision is the outcome of a rule tool's deterministic decision function.
type Decision struct {
	// Force makes the tool the selection for the current step.
	Force bool
	// Inputs are used when the tool is forced.
	Inputs map[string]any
}

// RuleCapability is implemented by tools flagged as rules.
type RuleCapability interface {
	Capability
	AvailabilityChecker
	Decide(ctx context.Context, view RunView, h Handles) (Decision, error)
}

// Factory builds a capability from keyword configuration.
type Factory func(cfg Config) (Capability, error)

// Spec pairs a tool's metadata with its factory so the metadata can be
// inspected without instantiating the tool.
type Spec struct {
	Descriptor domain.CapabilityDescriptor
	New        Factory
}

// ToolLookup resolves admitted tool descriptors by name.
type ToolLookup interface {
	Lookup(name string) (domain.CapabilityDescriptor, bool)
}

// Stream helpers

// Emit returns a stream yielding the given events in order.
func Emit(events ...domain.Event) Stream {
	return func(yield func(domain.Event, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Fail returns a stream that reports err as its only item.
func Fail(err error) Stream {
	return func(yield func(domain.Event, error) bool) {
		yield(domain.Event{}, err)
	}
}
