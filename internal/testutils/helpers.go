// Package testutils provides in-process capabilities for tests.
package testutils

import (
	"context"
	"sync/atomic"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// Tool is a configurable capability for tests.
// A nil Run yields a single Result carrying the tool name.
type Tool struct {
	Desc domain.CapabilityDescriptor
	Run  func(ctx context.Context, view ports.RunView, inputs map[string]any) ports.Stream

	// Calls counts Execute invocations.
	Calls atomic.Int32
}

func (t *Tool) Descriptor() domain.CapabilityDescriptor { return t.Desc }

func (t *Tool) Execute(ctx context.Context, view ports.RunView, inputs map[string]any, _ ports.Handles) ports.Stream {
	t.Calls.Add(1)
	if t.Run != nil {
		return t.Run(ctx, view, inputs)
	}
	return ports.Emit(domain.ResultEvent(domain.Result{
		Name:    t.Desc.Name,
		Objects: []map[string]any{{"inputs": inputs}},
	}))
}

// Rule is a rule capability for tests.
// Nil functions mean "available" and "decline" respectively.
type Rule struct {
	Tool
	AvailableFn func(view ports.RunView) (bool, error)
	DecideFn    func(view ports.RunView) (ports.Decision, error)
}

func (r *Rule) Available(_ context.Context, view ports.RunView, _ ports.Handles) (bool, error) {
	if r.AvailableFn == nil {
		return true, nil
	}
	return r.AvailableFn(view)
}

func (r *Rule) Decide(_ context.Context, view ports.RunView, _ ports.Handles) (ports.Decision, error) {
	if r.DecideFn == nil {
		return ports.Decision{}, nil
	}
	return r.DecideFn(view)
}

// Gated is a non-rule tool with an availability check.
type Gated struct {
	Tool
	AvailableFn func(view ports.RunView) (bool, error)
}

func (g *Gated) Available(_ context.Context, view ports.RunView, _ ports.Handles) (bool, error) {
	return g.AvailableFn(view)
}

// SpecOf wraps an existing instance in a Spec whose factory always returns it.
func SpecOf(c ports.Capability) ports.Spec {
	return ports.Spec{
		Descriptor: c.Descriptor(),
		New:        func(ports.Config) (ports.Capability, error) { return c, nil },
	}
}

// NewTool returns a Tool with the given name and terminal flag.
func NewTool(name string, terminal bool) *Tool {
	return &Tool{Desc: domain.CapabilityDescriptor{Name: name, Description: name, Terminal: terminal}}
}

// NewRule returns a Rule with the given decision functions.
func NewRule(name string, available func(ports.RunView) (bool, error), decide func(ports.RunView) (ports.Decision, error)) *Rule {
	return &Rule{
		Tool:        Tool{Desc: domain.CapabilityDescriptor{Name: name, Description: name, Rule: true}},
		AvailableFn: available,
		DecideFn:    decide,
	}
}
