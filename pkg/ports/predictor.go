package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// BranchOption is a child node offered to the predictor as a navigation choice.
type BranchOption struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Options is everything the predictor sees when asked to choose.
type Options struct {
	RunID       string
	Request     string
	NodeID      string
	Instruction string

	// Tools are the eligible tools at the current node.
	Tools []domain.CapabilityDescriptor
	// Branches are the child nodes the run may descend into.
	Branches []BranchOption

	Environment *domain.Environment
	History     []domain.DecisionEntry
}

// Choice is the predictor's selection.
// A Choice with an empty ToolName and a TargetNodeID descends into that branch.
type Choice struct {
	ToolName     string         `json:"tool_name,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	TargetNodeID string         `json:"target_node_id,omitempty"`
}

// Predictor chooses among eligible tools. Errors are fatal for the run.
type Predictor interface {
	Choose(ctx context.Context, opts Options) (Choice, error)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(ctx context.Context, opts Options) (Choice, error)

// Choose calls f.
func (f PredictorFunc) Choose(ctx context.Context, opts Options) (Choice, error) {
	return f(ctx, opts)
}
