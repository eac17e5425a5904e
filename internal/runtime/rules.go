package runtime

import (
	"context"
	"slices"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// candidate is an attached tool that passed the structural eligibility checks.
type candidate struct {
	att       domain.ToolAttachment
	desc      domain.CapabilityDescriptor
	cap       ports.Capability
	available bool
}

// candidates lists the node's attached tools that are admitted, whose
// predecessors already ran and that are not excluded for this step.
// Availability is evaluated for each; failures emit an Error event and count as unavailable.
func (r *run) candidates(ctx context.Context, node domain.BranchNode) ([]*candidate, error) {
	e, s := r.engine, r.state
	view := newView(s)

	var out []*candidate
	for _, att := range node.Tools {
		if r.excluded[att.Name] {
			continue
		}
		c, desc, ok := e.registry.Capability(att.Name)
		if !ok {
			e.logger.Debug("attached tool is not admitted", "node", node.ID, "tool", att.Name)
			continue
		}
		if !predecessorsMet(att, s) {
			continue
		}
		cand := &candidate{att: att, desc: desc, cap: c, available: true}
		if checker, ok := c.(ports.AvailabilityChecker); ok {
			avail, err := safeAvailable(ctx, checker, view, e.handles)
			if err != nil {
				if !r.emit(r.failure(node.ID, desc.Name, err.Error())) {
					return nil, errStopped
				}
				avail = false
			}
			cand.available = avail
		}
		out = append(out, cand)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// evaluateRules walks the available rule tools in attachment order.
// The first one that decides to force becomes the selection. Tools that decline
// are executed for their side effects and evaluation moves on.
func (r *run) evaluateRules(ctx context.Context, node domain.BranchNode, cands []*candidate) (*selection, error) {
	e, s := r.engine, r.state

	for _, c := range cands {
		if !c.desc.Rule || !c.available {
			continue
		}
		rule, ok := c.cap.(ports.RuleCapability)
		if !ok {
			continue
		}

		decision, err := safeDecide(ctx, rule, newView(s), e.handles)
		if err != nil {
			if !r.emit(r.failure(node.ID, c.desc.Name, err.Error())) {
				return nil, errStopped
			}
			continue
		}
		if decision.Force {
			e.logger.Debug("rule forced selection", "run", s.ID, "node", node.ID, "tool", c.desc.Name)
			return &selection{cand: c, inputs: decision.Inputs, forced: true}, nil
		}

		inputs, err := bindInputs(c.desc, decision.Inputs)
		if err != nil {
			if !r.emit(r.failure(node.ID, c.desc.Name, err.Error())) {
				return nil, errStopped
			}
			continue
		}
		if _, err := r.invoke(ctx, node.ID, c, inputs, false); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func predecessorsMet(att domain.ToolAttachment, s *domain.RunState) bool {
	return !slices.ContainsFunc(att.Predecessors, func(p string) bool { return !s.HasExecuted(p) })
}

func availableOnly(cands []*candidate) []*candidate {
	out := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		if c.available {
			out = append(out, c)
		}
	}
	return out
}

func safeAvailable(ctx context.Context, c ports.AvailabilityChecker, view ports.RunView, h ports.Handles) (ok bool, err error) {
	defer recoverInto(&err)
	return c.Available(ctx, view, h)
}

func safeDecide(ctx context.Context, c ports.RuleCapability, view ports.RunView, h ports.Handles) (d ports.Decision, err error) {
	defer recoverInto(&err)
	return c.Decide(ctx, view, h)
}
