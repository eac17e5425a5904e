package runtime

import (
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// view is a point-in-time copy of a run, handed to capabilities and rules.
// Tools run on their own goroutine, so they never see the live state.
type view struct {
	runID   string
	request string
	nodeID  string
	step    int
	env     *domain.Environment
	history []domain.DecisionEntry
}

func newView(s *domain.RunState) ports.RunView {
	return &view{
		runID:   s.ID,
		request: s.Request,
		nodeID:  s.CurrentNodeID,
		step:    s.Step,
		env:     s.Environment.Clone(),
		history: s.Entries(),
	}
}

func (v *view) RunID() string   { return v.runID }
func (v *view) Request() string { return v.request }
func (v *view) NodeID() string  { return v.nodeID }
func (v *view) Step() int       { return v.step }

func (v *view) Environment() *domain.Environment { return v.env.Clone() }

func (v *view) History() []domain.DecisionEntry {
	out := make([]domain.DecisionEntry, len(v.history))
	copy(out, v.history)
	return out
}
