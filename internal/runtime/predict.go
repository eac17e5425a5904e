package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

var errPredictorTimeout = errors.New("predictor timed out")

// choose consults the predictor. It returns nil when the choice descends into
// a child branch without running a tool.
func (r *run) choose(ctx context.Context, node domain.BranchNode, eligible []*candidate) (*selection, error) {
	e, s := r.engine, r.state
	if e.predictor == nil {
		return nil, &domain.PredictorError{NodeID: node.ID, Err: errors.New("no predictor configured")}
	}

	opts := ports.Options{
		RunID:       s.ID,
		Request:     s.Request,
		NodeID:      node.ID,
		Instruction: node.Instruction,
		Tools:       make([]domain.CapabilityDescriptor, len(eligible)),
		Environment: s.Environment.Clone(),
		History:     s.Entries(),
	}
	for i, c := range eligible {
		opts.Tools[i] = c.desc
	}
	for _, child := range e.graph.ChildrenOf(node.ID) {
		opts.Branches = append(opts.Branches, ports.BranchOption{ID: child.ID, Description: child.Description})
	}

	choice, err := r.predict(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("predictor timed out", "run", s.ID, "node", node.ID)
			return nil, errPredictorTimeout
		}
		return nil, &domain.PredictorError{NodeID: node.ID, Err: err}
	}

	// With nothing eligible only a branch descent makes progress.
	if len(eligible) == 0 && (choice.ToolName != "" || choice.TargetNodeID == "") {
		return nil, &domain.NoToolAvailableError{NodeID: node.ID}
	}

	if choice.TargetNodeID != "" && !slices.Contains(node.Children, choice.TargetNodeID) {
		return nil, &domain.PredictorError{NodeID: node.ID, Err: fmt.Errorf("target %q is not a child branch", choice.TargetNodeID)}
	}

	if choice.ToolName == "" {
		if choice.TargetNodeID == "" {
			return nil, &domain.PredictorError{NodeID: node.ID, Err: errors.New("choice names neither a tool nor a branch")}
		}
		e.logger.Debug("descending", "run", s.ID, "from", node.ID, "to", choice.TargetNodeID)
		s.CurrentNodeID = choice.TargetNodeID
		r.enterNode(ctx, choice.TargetNodeID)
		return nil, nil
	}

	i := slices.IndexFunc(eligible, func(c *candidate) bool { return c.desc.Name == choice.ToolName })
	if i < 0 {
		return nil, &domain.PredictorError{NodeID: node.ID, Err: fmt.Errorf("tool %q is not eligible", choice.ToolName)}
	}
	return &selection{cand: eligible[i], inputs: choice.Inputs, target: choice.TargetNodeID}, nil
}

// predict calls the predictor under the configured deadline.
func (r *run) predict(ctx context.Context, opts ports.Options) (ports.Choice, error) {
	if d := r.engine.predictorTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type outcome struct {
		choice ports.Choice
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				o.err = fmt.Errorf("predictor panicked: %v", p)
			}
			done <- o
		}()
		o.choice, o.err = r.engine.predictor.Choose(ctx, opts)
	}()

	select {
	case o := <-done:
		return o.choice, o.err
	case <-ctx.Done():
		return ports.Choice{}, ctx.Err()
	}
}
